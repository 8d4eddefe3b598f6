package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidOFlagCombinations(t *testing.T) {
	valid := map[OFlags]bool{
		0:                       true,
		OFlagCreate:             true,
		OFlagDirectory:          true,
		OFlagTruncate:           true,
		OFlagCreate | OFlagDirectory:                  true,
		OFlagCreate | OFlagExclusive:                  true,
		OFlagCreate | OFlagTruncate:                   true,
		OFlagCreate | OFlagDirectory | OFlagExclusive: true,
	}

	all := OFlagCreate | OFlagDirectory | OFlagExclusive | OFlagTruncate
	for flags := OFlags(0); flags <= all; flags++ {
		assert.Equal(t, valid[flags], ValidOFlagCombination(flags), "flags %#x", flags)
	}
}
