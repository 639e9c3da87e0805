package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeIsCanonical(t *testing.T) {
	a := Row{"id": 1, "name": "a"}
	b := Row{"name": "a", "id": 1}
	assert.Equal(t, Encode(a), Encode(b), "field insertion order must not affect the encoded Tuple")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	row := Row{"id": float64(1), "completed": false, "text": "buy milk"}
	decoded := Decode(Encode(row))
	assert.Equal(t, row, decoded)
}

func TestDecodeMalformedReturnsEmptyRow(t *testing.T) {
	assert.Equal(t, Row{}, Decode(Tuple("not json")))
}
