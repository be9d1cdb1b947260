package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Size
		wantErr  bool
	}{
		{"1024", 1024, false},
		{"500KB", 500 * KB, false},
		{"5MB", 5 * MB, false},
		{"2GiB", 2 * GB, false},
		{"1.5 GB", Size(1.5 * float64(GB)), false},
		{"1T", TB, false},
		{"", 0, true},
		{"abc", 0, true},
		{"5XB", 0, true},
		{"-5MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0B", Format(0))
	assert.Equal(t, "512B", Format(512))
	assert.Equal(t, "1KiB", Format(1024))
	assert.Equal(t, "1.5GiB", Format(Size(1.5*float64(GB))))
	assert.Equal(t, "2GiB", Format(2*GB))
	assert.Equal(t, "-1MiB", Format(-1*MB))
}

func TestMustParse(t *testing.T) {
	assert.Equal(t, 2*GB, MustParse("2GiB"))
	assert.Panics(t, func() { MustParse("nope!") })
}

func TestSizeString(t *testing.T) {
	assert.Equal(t, "5MiB", (5 * MB).String())
	assert.Equal(t, int64(5242880), (5 * MB).Int64())
}
