package viewpool

import (
	"encoding/base64"

	"github.com/jeffers-sub/classicbrowsercore/internal/core/coreerrors"
)

var (
	errRendererInit     = coreerrors.ErrRendererCreationFailed
	errNavigationFailed = coreerrors.ErrNavigationFailed
	errCaptureFailed    = coreerrors.ErrCaptureFailed
)

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
