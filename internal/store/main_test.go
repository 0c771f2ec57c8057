package store_test

import (
	"io"
	"os"
	"testing"

	"github.com/google/logger"
)

func TestMain(m *testing.M) {
	logger.Init("store_test", false, false, io.Discard)
	os.Exit(m.Run())
}
