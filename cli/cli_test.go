package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-mmsa/runstore"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlanCmd(t *testing.T) {
	out, err := execute(t, "plan", "--batches", "10", "--missing-rate", "0.4")
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	assert.Equal(t, "   1  one", lines[0])
	assert.Equal(t, "   6  two", lines[5])
	assert.Equal(t, "  10  three", lines[9])
	assert.Contains(t, out, "one=5 two=2 three=3")
}

func TestPlanCmdRejectsRate(t *testing.T) {
	_, err := execute(t, "plan", "--missing-rate", "0.9")
	require.Error(t, err)
}

func TestConfigCmd(t *testing.T) {
	testChdir(t, t.TempDir())
	out, err := execute(t, "config", "--dataset", "sims", "--missing-rate", "0.7")
	require.NoError(t, err)
	assert.Contains(t, out, `dataset = "sims"`)
	assert.Contains(t, out, "missing_rate = 0.7")

	_, err = execute(t, "config", "--batch-size", "-1")
	require.Error(t, err)
}

// TestWorkflow drives synth, init, train, eval and runs against one
// directory.
func TestWorkflow(t *testing.T) {
	dir := t.TempDir()
	testChdir(t, dir)

	out, err := execute(t, "synth", "-d", "data", "--train", "64", "--valid", "16", "--test", "16")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.FileExists(t, filepath.Join("data", "train.jsonl"))

	common := []string{"-d", "data", "--checkpoint-dir", "ckpt", "--log-level", "error"}

	_, err = execute(t, append([]string{"train"}, common...)...)
	require.Error(t, err, "training needs pretrained weights")

	_, err = execute(t, append([]string{"init"}, common...)...)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join("ckpt", "pretrained-mosi.pth"))

	args := append([]string{"train"}, common...)
	args = append(args,
		"--max-epochs", "2",
		"--batch-size", "16",
		"--model-save-path", "best.pth",
		"--run-store", "runs.db",
		"--curves", "curves.png",
	)
	out, err = execute(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "max_epochs after 2 epochs")
	assert.FileExists(t, "best.pth")
	assert.FileExists(t, filepath.Join("ckpt", "2.pth"))
	assert.FileExists(t, "curves.png")

	out, err = execute(t, "eval", "-d", "data", "--log-level", "error", "--checkpoint", "best.pth", "--split", "valid", "--samples-out", "samples.json")
	require.NoError(t, err)
	assert.Contains(t, out, `"split"`)

	raw, err := os.ReadFile("samples.json")
	require.NoError(t, err)
	var samples struct {
		IDs      []string               `json:"ids"`
		Features map[string][][]float64 `json:"features"`
	}
	require.NoError(t, json.Unmarshal(raw, &samples))
	assert.Len(t, samples.IDs, 16)
	assert.Contains(t, samples.Features, "Feature_f")

	s, err := runstore.Open("runs.db")
	require.NoError(t, err)
	runs, err := s.ListRuns(context.Background(), 0, 10)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Len(t, runs, 1)
	assert.Equal(t, runstore.StatusFinished, runs[0].Status)
	assert.Equal(t, 2, runs[0].Epochs)

	out, err = execute(t, "runs", "view", runs[0].ID, "--run-store", "runs.db")
	require.NoError(t, err)
	assert.Contains(t, out, runs[0].ID)

	out, err = execute(t, "runs", "list", "--run-store", "runs.db", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, runs[0].ID)
}

func TestTrainFailsFastOnBusyMetricsAddr(t *testing.T) {
	testChdir(t, t.TempDir())

	_, err := execute(t, "synth", "-d", "data", "--train", "32", "--valid", "8", "--test", "8")
	require.NoError(t, err)
	common := []string{"-d", "data", "--checkpoint-dir", "ckpt", "--log-level", "error"}
	_, err = execute(t, append([]string{"init"}, common...)...)
	require.NoError(t, err)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	args := append([]string{"train"}, common...)
	args = append(args,
		"--max-epochs", "5",
		"--batch-size", "16",
		"--run-store", "runs.db",
		"--metrics-addr", busy.Addr().String(),
	)
	_, err = execute(t, args...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics server")

	assert.NoFileExists(t, filepath.Join("ckpt", "1.pth"), "no epoch may run when the metrics address is taken")
	assert.NoFileExists(t, "runs.db")
}

// testChdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func testChdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
