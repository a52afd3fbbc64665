package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ad-tracker/youtube-stats-collector/internal/db"
)

func TestValidateBin(t *testing.T) {
	for _, bin := range []int{0, 12, 23} {
		assert.NoError(t, ValidateBin(bin), "bin %d", bin)
	}

	for _, bin := range []int{-1, 24, 100} {
		err := ValidateBin(bin)
		assert.True(t, db.IsCheckViolation(err), "bin %d", bin)
		assert.Contains(t, err.Error(), "out of range 0..23")
	}
}
