package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/jobs"
)

func TestBuildTaskSupportedJobs(t *testing.T) {
	for _, name := range []string{jobs.TaskStockFlagsRefresh, jobs.TaskIdempotencyCleanup} {
		task, err := BuildTask(name)
		require.NoError(t, err)
		require.Equal(t, name, task.Type())
	}
	_, err := BuildTask("gl:integrity")
	require.Error(t, err)
}

func TestRunRequiresCommand(t *testing.T) {
	var out bytes.Buffer
	require.Error(t, Run(context.Background(), "127.0.0.1:0", nil, &out))
	require.Error(t, Run(context.Background(), "127.0.0.1:0", []string{"trigger"}, &out))
	require.Error(t, Run(context.Background(), "127.0.0.1:0", []string{"purge"}, &out))
}

func TestTriggerWithoutClient(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskStockFlagsRefresh)
	require.Error(t, err)
}
