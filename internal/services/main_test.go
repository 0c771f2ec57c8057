package services

import (
	"io"
	"os"
	"testing"

	"github.com/google/logger"
)

func TestMain(m *testing.M) {
	logger.Init("services_test", false, false, io.Discard)
	os.Exit(m.Run())
}
