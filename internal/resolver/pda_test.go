package resolver

import (
	"crypto/rand"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x1-wallet-go/internal/solana"
)

func randomPubkey(t *testing.T) solana.Pubkey {
	t.Helper()
	var pk solana.Pubkey
	_, err := rand.Read(pk[:])
	require.NoError(t, err)
	return pk
}

func TestFindProgramAddressMatchesReference(t *testing.T) {
	for i := 0; i < 25; i++ {
		owner := randomPubkey(t)
		program := randomPubkey(t)
		seeds := [][]byte{owner[:], []byte("metadata")}

		addr, bump, err := FindProgramAddress(seeds, program)
		require.NoError(t, err)

		refAddr, refBump, err := solanago.FindProgramAddress(seeds, solanago.PublicKeyFromBytes(program[:]))
		require.NoError(t, err)
		assert.Equal(t, refAddr.Bytes(), addr.Bytes())
		assert.Equal(t, refBump, bump)
	}
}

func TestFindAssociatedTokenAddressMatchesReference(t *testing.T) {
	for i := 0; i < 25; i++ {
		owner := randomPubkey(t)
		mint := randomPubkey(t)

		addr, _, err := FindAssociatedTokenAddress(owner, solana.TokenProgramID, mint)
		require.NoError(t, err)

		refAddr, _, err := solanago.FindAssociatedTokenAddress(
			solanago.PublicKeyFromBytes(owner[:]),
			solanago.PublicKeyFromBytes(mint[:]),
		)
		require.NoError(t, err)
		assert.Equal(t, refAddr.Bytes(), addr.Bytes())
	}
}

func TestCreateProgramAddressRejectsOnCurve(t *testing.T) {
	program := randomPubkey(t)
	seeds := [][]byte{[]byte("seed")}

	// Re-deriving with the bump the search settled on must give the same
	// off-curve address.
	addr, bump, err := FindProgramAddress(seeds, program)
	require.NoError(t, err)

	again, err := CreateProgramAddress(append(seeds, []byte{bump}), program)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
}

func TestCreateProgramAddressSeedLimits(t *testing.T) {
	program := randomPubkey(t)

	_, err := CreateProgramAddress([][]byte{make([]byte, 33)}, program)
	assert.ErrorIs(t, err, ErrInvalidSeeds)

	tooMany := make([][]byte, maxSeeds+1)
	for i := range tooMany {
		tooMany[i] = []byte{byte(i)}
	}
	_, err = CreateProgramAddress(tooMany, program)
	assert.ErrorIs(t, err, ErrInvalidSeeds)
}
