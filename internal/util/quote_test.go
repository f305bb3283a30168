package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuoteIdentifier(t *testing.T) {
	require.Equal(t, `"country"`, QuoteIdentifier("country"))
	require.Equal(t, `"group"`, QuoteIdentifier("group"))
	require.Equal(t, `"select"`, QuoteIdentifier("select"))
}

func TestQuoteIdentifier_EscapesEmbeddedQuotes(t *testing.T) {
	require.Equal(t, `"weird""name"`, QuoteIdentifier(`weird"name`))
}

func TestQualifyIdentifier(t *testing.T) {
	require.Equal(t, `"public"."country"`, QualifyIdentifier("public", "country"))
}
