package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	ErrOverflow         = errors.New("value does not fit in 128 bits")
	ErrNegative         = errors.New("value must not be negative")
	ErrMalformedPayload = errors.New("malformed payload")
)

const (
	paymasterAddressLen = common.AddressLength
	paymasterGasLen     = 16
	paymasterFixedLen   = paymasterAddressLen + 2*paymasterGasLen
)

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

func checkUint128(name string, v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return errors.Wrapf(ErrNegative, "%s=%s", name, v)
	}
	if v.Cmp(maxUint128) > 0 {
		return errors.Wrapf(ErrOverflow, "%s=%s", name, v)
	}
	return nil
}

// PackUint128Pair concatenates high and low into one 32 byte word, high
// first. Either value exceeding 128 bits is an error, never a truncation.
func PackUint128Pair(high, low *big.Int) ([32]byte, error) {
	var word [32]byte
	if err := checkUint128("high", high); err != nil {
		return word, err
	}
	if err := checkUint128("low", low); err != nil {
		return word, err
	}
	if high != nil {
		high.FillBytes(word[:16])
	}
	if low != nil {
		low.FillBytes(word[16:])
	}
	return word, nil
}

func UnpackUint128Pair(word [32]byte) (high, low *big.Int) {
	return new(big.Int).SetBytes(word[:16]), new(big.Int).SetBytes(word[16:])
}

func uint128Bytes(v *big.Int) []byte {
	b := make([]byte, 16)
	if v != nil {
		v.FillBytes(b)
	}
	return b
}

// PackPaymasterAndData lays out paymaster || verificationGas(16) || postOpGas(16) || data.
func PackPaymasterAndData(paymaster common.Address, verificationGas, postOpGas *big.Int, data []byte) ([]byte, error) {
	if err := checkUint128("paymasterVerificationGasLimit", verificationGas); err != nil {
		return nil, err
	}
	if err := checkUint128("paymasterPostOpGasLimit", postOpGas); err != nil {
		return nil, err
	}

	out := make([]byte, 0, paymasterFixedLen+len(data))
	out = append(out, paymaster.Bytes()...)
	out = append(out, uint128Bytes(verificationGas)...)
	out = append(out, uint128Bytes(postOpGas)...)
	out = append(out, data...)
	return out, nil
}

func UnpackPaymasterAndData(b []byte) (paymaster common.Address, verificationGas, postOpGas *big.Int, data []byte, err error) {
	if len(b) < paymasterFixedLen {
		return common.Address{}, nil, nil, nil, errors.Wrapf(ErrMalformedPayload, "paymasterAndData length %d", len(b))
	}

	paymaster = common.BytesToAddress(b[:paymasterAddressLen])
	verificationGas = new(big.Int).SetBytes(b[paymasterAddressLen : paymasterAddressLen+paymasterGasLen])
	postOpGas = new(big.Int).SetBytes(b[paymasterAddressLen+paymasterGasLen : paymasterFixedLen])
	data = common.CopyBytes(b[paymasterFixedLen:])
	return paymaster, verificationGas, postOpGas, data, nil
}
