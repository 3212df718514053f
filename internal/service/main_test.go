package service

import (
	"os"
	"testing"

	"github.com/uvalang/uvalens/internal/adapter/analyzer/analyzertest"
)

func TestMain(m *testing.M) {
	analyzertest.RunIfHelper()
	os.Exit(m.Run())
}
