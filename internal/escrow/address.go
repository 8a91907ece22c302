package escrow

import (
	"bytes"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// EIP-1167 clone code. The runtime code wraps the 20-byte implementation address;
// the creation code is the runtime code behind a ten-byte deploy header.
var (
	proxyDeployHeader   = common.FromHex("0x3d602d80600a3d3981f3")
	proxyRuntimePrefix  = common.FromHex("0x363d3d373d3d3d363d73")
	proxyRuntimeSuffix  = common.FromHex("0x5af43d82803e903d91602b57fd5bf3")
	proxyRuntimeCodeLen = len(proxyRuntimePrefix) + common.AddressLength + len(proxyRuntimeSuffix)
)

// Immutables is the parameter tuple an escrow clone is deployed with. Maker, Taker
// and Token are kept in their packed on-chain form.
type Immutables struct {
	OrderHash     common.Hash
	Hashlock      common.Hash
	Maker         *uint256.Int
	Taker         *uint256.Int
	Token         *uint256.Int
	Amount        *uint256.Int
	SafetyDeposit *uint256.Int
	Timelocks     *uint256.Int
}

// Hash returns keccak256 over the eight fields encoded as 32-byte words. It is the
// CREATE2 salt used by the factory.
func (im Immutables) Hash() common.Hash {
	buf := make([]byte, 0, 8*32)
	buf = append(buf, im.OrderHash.Bytes()...)
	buf = append(buf, im.Hashlock.Bytes()...)
	for _, v := range []*uint256.Int{im.Maker, im.Taker, im.Token, im.Amount, im.SafetyDeposit, im.Timelocks} {
		buf = append(buf, word(v)...)
	}
	return crypto.Keccak256Hash(buf)
}

func word(v *uint256.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	b := v.Bytes32()
	return b[:]
}

// ProxyRuntimeCode returns the deployed code of a minimal proxy delegating to impl.
func ProxyRuntimeCode(impl common.Address) []byte {
	code := make([]byte, 0, proxyRuntimeCodeLen)
	code = append(code, proxyRuntimePrefix...)
	code = append(code, impl.Bytes()...)
	return append(code, proxyRuntimeSuffix...)
}

// ProxyInitCode returns the creation code of a minimal proxy delegating to impl.
func ProxyInitCode(impl common.Address) []byte {
	code := make([]byte, 0, len(proxyDeployHeader)+proxyRuntimeCodeLen)
	code = append(code, proxyDeployHeader...)
	return append(code, ProxyRuntimeCode(impl)...)
}

// ProxyBytecodeHash returns keccak256 of the minimal-proxy creation code pointing at impl.
func ProxyBytecodeHash(impl common.Address) common.Hash {
	return crypto.Keccak256Hash(ProxyInitCode(impl))
}

// CloneTarget reports the implementation a deployed minimal proxy delegates to.
// ok is false when code is not an EIP-1167 proxy.
func CloneTarget(code []byte) (impl common.Address, ok bool) {
	if len(code) != proxyRuntimeCodeLen ||
		!bytes.HasPrefix(code, proxyRuntimePrefix) ||
		!bytes.HasSuffix(code, proxyRuntimeSuffix) {
		return common.Address{}, false
	}
	return common.BytesToAddress(code[len(proxyRuntimePrefix) : len(proxyRuntimePrefix)+common.AddressLength]), true
}

// Create2Address returns the address deployer creates with salt and initCode.
func Create2Address(deployer common.Address, salt common.Hash, initCode []byte) common.Address {
	return crypto.CreateAddress2(deployer, salt, crypto.Keccak256(initCode))
}

// ComputeAddress returns the CREATE2 address of a clone of impl deployed by factory with salt.
func ComputeAddress(factory, impl common.Address, salt common.Hash) common.Address {
	return Create2Address(factory, salt, ProxyInitCode(impl))
}

// DecodeAddress extracts an address packed into the low 160 bits of a 256-bit word.
// The high bits may carry flags and are discarded.
func DecodeAddress(v *uint256.Int) common.Address {
	if v == nil {
		return common.Address{}
	}
	return common.Address(v.Bytes20())
}

// PackAddress is the inverse of DecodeAddress with no flags set.
func PackAddress(a common.Address) *uint256.Int {
	return new(uint256.Int).SetBytes20(a.Bytes())
}

// Hex renders an address as lowercase 0x-prefixed hex.
func Hex(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// Resolver predicts escrow addresses for one factory deployment.
type Resolver struct {
	Factory           common.Address
	SrcImplementation common.Address
	DstImplementation common.Address
}

// SrcAddress predicts the source-chain escrow for immutables.
func (r Resolver) SrcAddress(im Immutables) common.Address {
	return ComputeAddress(r.Factory, r.SrcImplementation, im.Hash())
}

// DstAddress predicts the destination-chain escrow for immutables.
func (r Resolver) DstAddress(im Immutables) common.Address {
	return ComputeAddress(r.Factory, r.DstImplementation, im.Hash())
}
