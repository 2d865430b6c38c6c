package memory

import (
	"testing"

	"github.com/oasisprotocol/yieldvault/storage/testutil"
)

func TestEventStore(t *testing.T) {
	testutil.TestEventStore(t, NewStore())
}
