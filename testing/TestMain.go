// Package testing puts the process into stock ledger test mode. A blank
// import from a _test.go file sets STOCKLEDGER_TEST_MODE=1, so the cmd mains
// stay inert, and supplies a throwaway JWT_SECRET so app.LoadConfig succeeds
// without a .env file.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("STOCKLEDGER_TEST_MODE", "1")
		if os.Getenv("JWT_SECRET") == "" {
			_ = os.Setenv("JWT_SECRET", "test-secret")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
