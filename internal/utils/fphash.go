package utils

// FpHash is a 64-bit polynomial rolling hash. It is used to fingerprint
// Jaxprs and constant identities for the JIT compile cache, where a stable
// process-lifetime key is enough and cryptographic strength is not needed.
type FpHash struct {
	h uint64
}

const fpHashPrime = 0x100000001b3 // FNV-ish odd multiplier

// NewFpHash returns a hash seeded with a fixed offset basis.
func NewFpHash() *FpHash {
	return &FpHash{h: 0xcbf29ce484222325}
}

func (f *FpHash) step(b uint64) {
	f.h = f.h*fpHashPrime + b
}

// WriteByte folds one byte into the hash.
func (f *FpHash) WriteByte(b byte) error {
	f.step(uint64(b))
	return nil
}

// WriteString folds a string into the hash, terminated so that
// ("ab","c") and ("a","bc") hash differently.
func (f *FpHash) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		f.step(uint64(s[i]))
	}
	f.step(0xff)
}

// WriteInt folds an integer into the hash.
func (f *FpHash) WriteInt(v int) {
	f.step(uint64(int64(v)))
	f.step(0xfe)
}

// Sum64 returns the current hash value.
func (f *FpHash) Sum64() uint64 {
	return f.h
}
