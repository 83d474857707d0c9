package tests

import (
	"os"
	"testing"

	"github.com/classnet/backend/core"
	"github.com/classnet/backend/core/user"
)

func TestMain(m *testing.M) {
	os.Setenv("ENV", "TEST")
	os.Setenv("TEST_DEBUG", "false")

	core.InitConf()
	core.InitValidators()
	user.RegisterValidators()

	os.Exit(m.Run())
}
