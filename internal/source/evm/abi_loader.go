package evm

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/*.json
var embedded embed.FS

// Event names the decoder understands.
const (
	EventSrcEscrowCreated = "SrcEscrowCreated"
	EventDstEscrowCreated = "DstEscrowCreated"
	EventWithdrawal       = "Withdrawal"
	EventEscrowCancelled  = "EscrowCancelled"
)

// LoadABIs loads ABI JSON files from the provided directories.
func LoadABIs(dirs []string) (map[string]*abi.ABI, error) {
	abis := map[string]*abi.ABI{}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read abi %s: %w", path, err)
			}
			a, err := abi.JSON(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("parse abi %s: %w", path, err)
			}
			abis[path] = &a
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return abis, nil
}

// embeddedABIs parses the escrow factory and escrow ABIs shipped with the binary.
func embeddedABIs() (map[string]*abi.ABI, error) {
	abis := map[string]*abi.ABI{}
	err := fs.WalkDir(embedded, "abi", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := embedded.ReadFile(path)
		if err != nil {
			return err
		}
		a, err := abi.JSON(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("parse embedded abi %s: %w", path, err)
		}
		abis[path] = &a
		return nil
	})
	return abis, err
}

// FindEvent searches loaded ABIs for an event with the given name.
func FindEvent(abis map[string]*abi.ABI, eventName string) (*abi.Event, bool) {
	for _, a := range abis {
		if ev, ok := a.Events[eventName]; ok {
			return &ev, true
		}
	}
	return nil, false
}

// EscrowEvents holds the four escrow event definitions.
type EscrowEvents struct {
	SrcEscrowCreated abi.Event
	DstEscrowCreated abi.Event
	Withdrawal       abi.Event
	EscrowCancelled  abi.Event
}

// LoadEscrowEvents resolves the escrow events, preferring definitions found in dirs
// over the embedded ones so deployments with a different event layout can be
// indexed without a rebuild.
func LoadEscrowEvents(dirs []string) (EscrowEvents, error) {
	builtin, err := embeddedABIs()
	if err != nil {
		return EscrowEvents{}, err
	}
	custom, err := LoadABIs(dirs)
	if err != nil {
		return EscrowEvents{}, err
	}

	lookup := func(name string) (abi.Event, error) {
		if ev, ok := FindEvent(custom, name); ok {
			return *ev, nil
		}
		if ev, ok := FindEvent(builtin, name); ok {
			return *ev, nil
		}
		return abi.Event{}, fmt.Errorf("abi event %s not found", name)
	}

	var out EscrowEvents
	for _, f := range []struct {
		name string
		dst  *abi.Event
	}{
		{EventSrcEscrowCreated, &out.SrcEscrowCreated},
		{EventDstEscrowCreated, &out.DstEscrowCreated},
		{EventWithdrawal, &out.Withdrawal},
		{EventEscrowCancelled, &out.EscrowCancelled},
	} {
		ev, err := lookup(f.name)
		if err != nil {
			return EscrowEvents{}, err
		}
		*f.dst = ev
	}
	return out, nil
}
