package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivedCode_Stable(t *testing.T) {
	a := DerivedCode("Departamento 3D2B Providencia", 120000000, "Providencia")
	b := DerivedCode("  departamento 3d2b, providencia ", 120000000, "PROVIDENCIA")

	require.Len(t, a, codeLength)
	assert.Equal(t, a, b, "formatting noise must not change the code")
}

func TestDerivedCode_Distinguishes(t *testing.T) {
	base := DerivedCode("Casa en Ñuñoa", 155400000, "Ñuñoa")

	assert.NotEqual(t, base, DerivedCode("Casa en Ñuñoa", 155400001, "Ñuñoa"))
	assert.NotEqual(t, base, DerivedCode("Casa en Ñuñoa", 155400000, "Macul"))
	assert.NotEqual(t, base, DerivedCode("Casa en La Reina", 155400000, "Ñuñoa"))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "ñuñoa metro irarrázaval", NormalizeText("  Ñuñoa,   Metro  Irarrázaval! "))
	assert.Equal(t, "", NormalizeText("  ... "))
}
