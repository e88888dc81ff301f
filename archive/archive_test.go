package archive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNopMirrorUploadsNothing(t *testing.T) {
	var m NopMirror
	require.NoError(t, m.Upload("/does/not/exist.htd"))
}
