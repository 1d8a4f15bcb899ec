// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/conda-store/conda-store-server/pkg/schema"
)

// AppendToLogs appends text to the build's log artifact. The
// read-concatenate-write round trip runs under an exclusive cross-process
// file lock on <build_path>.log.lock, so concurrent workers appending to
// the same build serialize instead of clobbering each other.
func (b *Context) AppendToLogs(ctx context.Context, text string) error {
	// The lock file lives next to the install prefix, which may not exist
	// yet when the first line is appended.
	if err := os.MkdirAll(filepath.Dir(b.BuildPath), 0o755); err != nil {
		return err
	}
	lock := flock.New(b.BuildPath + ".log.lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	// A missing or unreadable log artifact reads as empty.
	current, err := b.storage.Get(ctx, b.LogKey)
	if err != nil {
		current = nil
	}

	if err := b.storage.Set(ctx, b.LogKey, append(current, []byte(text)...), "text/plain"); err != nil {
		return err
	}
	return b.Store.DB.EnsureBuildArtifact(b.Build.ID, schema.ArtifactLogs, b.LogKey)
}

// LogWriter adapts the log-append path to io.Writer for streaming
// subprocess output. Each written chunk is split into lines, empty lines
// are skipped, and the stage prefix identifies the producer.
type LogWriter struct {
	ctx    context.Context
	bctx   *Context
	prefix string
}

// NewLogWriter returns a writer appending prefixed lines to the build log.
func (b *Context) NewLogWriter(ctx context.Context, prefix string) *LogWriter {
	return &LogWriter{ctx: ctx, bctx: b, prefix: prefix}
}

// Write implements io.Writer. Errors appending to the log are swallowed so
// a storage hiccup cannot fail the build step producing the output.
func (w *LogWriter) Write(p []byte) (int, error) {
	var sb strings.Builder
	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		sb.WriteString(w.prefix)
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if sb.Len() > 0 {
		_ = w.bctx.AppendToLogs(w.ctx, sb.String())
	}
	return len(p), nil
}
