package mechanism

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func seq(start, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(start + i)
	}
	return b
}

func TestKnownAnswer_CAVP(t *testing.T) {
	for _, ka := range knownAnswers {
		t.Run(ka.name, func(t *testing.T) {
			m, err := Lookup(ka.typ, ka.flags)
			require.NoError(t, err)
			require.NoError(t, m.Instantiate(unhex(t, ka.entropy), unhex(t, ka.nonce), nil))

			want := unhex(t, ka.want)
			out := make([]byte, len(want))
			require.NoError(t, m.Generate(out, nil))
			require.NoError(t, m.Generate(out, nil))
			assert.Equal(t, hex.EncodeToString(want), hex.EncodeToString(out))
		})
	}
}

func TestSelfTest(t *testing.T) {
	results := SelfTest()
	require.Len(t, results, len(knownAnswers))
	for _, r := range results {
		assert.NoError(t, r.Err, r.Name)
	}
}

func TestSelfTest_DetectsMismatch(t *testing.T) {
	ka := knownAnswers[0]
	ka.want = "00" + ka.want[2:]
	assert.ErrorIs(t, ka.run(), ErrSelfTest)
}

// Full life cycle with personalization, additional input and a reseed.
func TestKnownAnswer_Lifecycle(t *testing.T) {
	tests := []struct {
		name  string
		typ   Type
		flags Flags
		want  string
	}{
		{
			name: "CTR_DRBG AES-256 df",
			typ:  AES256CTR,
			want: "7d44ebd02293445a527a605b6342f246d2a6f5794e1af904e15199b8c53e568e" +
				"01543d6edba0e0a1326d5ea5955582e0d75e1de9a0861d9db4c1802da42da50c",
		},
		{
			name: "CTR_DRBG AES-192 df",
			typ:  AES192CTR,
			want: "4621b65a45e7acba5e9ef5cf0f4290427d4d2f6b6b93c22beb1e19891a9ebb79" +
				"b47ba24d84b5fb14e5f2328cd9c331e75b0ec3fecd84430436557d589563f3d5",
		},
		{
			name:  "CTR_DRBG AES-128 no df",
			typ:   AES128CTR,
			flags: FlagCTRNoDF,
			want: "3273e69439e2d5d96fcbfb9fa14245deb6bc0ff0c6849b91b379df7da0c95fd0" +
				"a63304ae93a16a757fbf53214d83dc335835b6fd0690f6934fc1fa0ad0431ce3",
		},
		{
			name: "Hash_DRBG SHA-512",
			typ:  SHA512,
			want: "09c111b79c10fbb2577025b4398e3245748a33fc74060cd573898b0fb9c8e397" +
				"ad0f18bbbd9b9c6b50e085ea877f28fb9b73601d3b89fb4838f693c2332d11dd",
		},
		{
			name: "Hash_DRBG SHA-1",
			typ:  SHA1,
			want: "32f35dc0c2cffe8ebb93463987b3467248121b47e7a61b83da5357734a8e1e02" +
				"067a162a8075cf42d5a2404f43672c9ad2fb06bd5ed71f3fb1de71a9aa3e9e8c",
		},
		{
			name:  "HMAC_DRBG SHA3-256",
			typ:   SHA3_256,
			flags: FlagHMAC,
			want: "b6885b617f64522f25aae8e4be9d182e7dfbd4cc8df6a2d3f7a5c460abbc6a3b" +
				"80e4999bf0e1da6f06b4373c2071a2f80a83448e22837e9dbfe461fa91fe8c9a",
		},
		{
			name:  "HMAC_DRBG SHA-384",
			typ:   SHA384,
			flags: FlagHMAC,
			want: "59aaf309f4536d7d579b644f26259086fb467ea1df75e7105774eefdc46293d6" +
				"642002cefadfe2d0d448511da604cb60ac1e0132459fec53876fc4ccd7166d22",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Lookup(tt.typ, tt.flags)
			require.NoError(t, err)

			var nonce []byte
			if tt.flags&FlagCTRNoDF == 0 {
				nonce = seq(0x20, 16)
			}
			require.NoError(t, m.Instantiate(seq(0, 32), nonce, []byte("pers")))

			out := make([]byte, 64)
			require.NoError(t, m.Generate(out, []byte("adin1")))
			require.NoError(t, m.Reseed(seq(0x80, 32), []byte("radin")))
			require.NoError(t, m.Generate(out, []byte("adin2")))
			assert.Equal(t, tt.want, hex.EncodeToString(out))
		})
	}
}

func TestDeterminism(t *testing.T) {
	for _, typ := range Types() {
		for _, flags := range []Flags{0, FlagHMAC} {
			if typ.IsCipher() && flags == FlagHMAC {
				continue
			}
			a, err := Lookup(typ, flags)
			require.NoError(t, err)
			b, err := Lookup(typ, flags)
			require.NoError(t, err)

			entropy := seq(1, a.Params().MinEntropyLen)
			nonce := seq(100, a.Params().MinNonceLen)
			require.NoError(t, a.Instantiate(entropy, nonce, []byte("same")))
			require.NoError(t, b.Instantiate(entropy, nonce, []byte("same")))

			outA := make([]byte, 100)
			outB := make([]byte, 100)
			require.NoError(t, a.Generate(outA, nil))
			require.NoError(t, b.Generate(outB, nil))
			assert.Equal(t, outA, outB, "%s flags=%d", typ, flags)

			// Additional input changes the stream.
			require.NoError(t, a.Generate(outA, []byte("x")))
			require.NoError(t, b.Generate(outB, []byte("y")))
			assert.NotEqual(t, outA, outB, "%s flags=%d", typ, flags)
		}
	}
}

func TestGenerate_Limits(t *testing.T) {
	m, err := Lookup(SHA256, FlagHMAC)
	require.NoError(t, err)

	out := make([]byte, 16)
	assert.ErrorIs(t, m.Generate(out, nil), ErrNotInstantiated)
	assert.ErrorIs(t, m.Reseed(seq(0, 32), nil), ErrNotInstantiated)

	require.NoError(t, m.Instantiate(seq(0, 32), seq(0, 16), nil))

	assert.ErrorIs(t, m.Generate(make([]byte, MaxRequest+1), nil), ErrRequestTooLarge)
	assert.NoError(t, m.Generate(make([]byte, MaxRequest), nil))
	assert.NoError(t, m.Generate(nil, nil), "zero-length request is allowed")
}

func TestInstantiate_InputBounds(t *testing.T) {
	m, err := Lookup(AES256CTR, 0)
	require.NoError(t, err)
	err = m.Instantiate(seq(0, 31), seq(0, 16), nil)
	assert.ErrorIs(t, err, ErrInstantiate)
	assert.ErrorIs(t, err, ErrInputLength)

	noDF, err := Lookup(AES256CTR, FlagCTRNoDF)
	require.NoError(t, err)
	assert.ErrorIs(t, noDF.Instantiate(seq(0, 32), nil, nil), ErrInputLength, "no-df needs seedlen bytes")
	assert.ErrorIs(t, noDF.Instantiate(seq(0, 48), seq(0, 8), nil), ErrInputLength, "no-df takes no nonce")
	assert.ErrorIs(t, noDF.Instantiate(seq(0, 48), nil, seq(0, 49)), ErrInputLength)
	assert.NoError(t, noDF.Instantiate(seq(0, 48), nil, seq(0, 48)))
}

func TestUninstantiate_Zeroizes(t *testing.T) {
	for _, flags := range []Flags{0, FlagHMAC} {
		for _, typ := range []Type{AES128CTR, SHA256, SHA3_512} {
			if typ.IsCipher() && flags == FlagHMAC {
				continue
			}
			m, err := Lookup(typ, flags)
			require.NoError(t, err)
			p := m.Params()

			require.NoError(t, m.Instantiate(seq(7, p.MinEntropyLen), seq(9, p.MinNonceLen), nil))
			require.NoError(t, m.Generate(make([]byte, 33), nil))
			assert.False(t, m.Zeroized(), "%s", typ)

			m.Uninstantiate()
			assert.True(t, m.Zeroized(), "%s", typ)
			m.Uninstantiate()
			assert.True(t, m.Zeroized(), "idempotent")

			// An uninstantiated mechanism can be instantiated again.
			require.NoError(t, m.Instantiate(seq(7, p.MinEntropyLen), seq(9, p.MinNonceLen), nil))
			assert.False(t, m.Zeroized())
		}
	}
}

func TestParams(t *testing.T) {
	tests := []struct {
		typ      Type
		flags    Flags
		kind     Kind
		strength int
		seedLen  int
		minEnt   int
		minNonce int
	}{
		{AES128CTR, 0, KindCTR, 128, 32, 16, 8},
		{AES192CTR, 0, KindCTR, 192, 40, 24, 12},
		{AES256CTR, 0, KindCTR, 256, 48, 32, 16},
		{AES256CTR, FlagCTRNoDF, KindCTR, 256, 48, 48, 0},
		{SHA1, 0, KindHash, 128, 55, 16, 8},
		{SHA224, 0, KindHash, 192, 55, 24, 12},
		{SHA256, 0, KindHash, 256, 55, 32, 16},
		{SHA384, 0, KindHash, 256, 111, 32, 16},
		{SHA512, 0, KindHash, 256, 111, 32, 16},
		{SHA512_224, 0, KindHash, 192, 55, 24, 12},
		{SHA3_256, 0, KindHash, 256, 55, 32, 16},
		{SHA1, FlagHMAC, KindHMAC, 128, 20, 16, 8},
		{SHA512, FlagHMAC, KindHMAC, 256, 64, 32, 16},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			m, err := Lookup(tt.typ, tt.flags)
			require.NoError(t, err)
			p := m.Params()
			assert.Equal(t, tt.kind, p.Kind)
			assert.Equal(t, tt.strength, p.Strength)
			assert.Equal(t, tt.seedLen, p.SeedLen)
			assert.Equal(t, tt.minEnt, p.MinEntropyLen)
			assert.Equal(t, tt.minNonce, p.MinNonceLen)
			assert.Equal(t, MaxRequest, p.MaxRequest)
		})
	}
}

func TestLookup_Errors(t *testing.T) {
	_, err := Lookup("md5", 0)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Lookup(AES128CTR, FlagHMAC)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Lookup(SHA256, FlagCTRNoDF)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want Type
		err  bool
	}{
		{"", DefaultType, false},
		{"AES-256-CTR", AES256CTR, false},
		{"aes_128_ctr", AES128CTR, false},
		{"SHA-256", SHA256, false},
		{"sha512/256", SHA512_256, false},
		{"SHA-512/224", SHA512_224, false},
		{"sha3-384", SHA3_384, false},
		{"  sha1 ", SHA1, false},
		{"des-ede3", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnsupported)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "CTR_DRBG", KindCTR.String())
	assert.Equal(t, "Hash_DRBG", KindHash.String())
	assert.Equal(t, "HMAC_DRBG", KindHMAC.String())
	assert.Equal(t, "unknown", Kind(9).String())
}

func TestArithmeticHelpers(t *testing.T) {
	a := []byte{0x00, 0xff, 0xff}
	incBE(a)
	assert.Equal(t, []byte{0x01, 0x00, 0x00}, a)

	wrap := []byte{0xff, 0xff}
	incBE(wrap)
	assert.Equal(t, []byte{0, 0}, wrap)

	x := []byte{0x00, 0x00, 0xff, 0xfe}
	addBE(x, []byte{0x01, 0x03})
	assert.Equal(t, []byte{0x00, 0x01, 0x01, 0x01}, x)

	y := []byte{0xff, 0xff, 0xff}
	addUint64BE(y, 2)
	assert.Equal(t, []byte{0x00, 0x00, 0x01}, y)
}
