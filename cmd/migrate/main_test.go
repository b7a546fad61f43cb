package main

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CreatesAndPrunesJournal(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	path := filepath.Join(t.TempDir(), "journal.db")

	require.NoError(t, run(path, 0, logger))
	assert.FileExists(t, path)
	require.NoError(t, run(path, 7, logger), "pruning an empty journal succeeds")
}

func TestRun_RejectsTraversal(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	assert.Error(t, run("../outside.db", 0, logger))
}
