package mux

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"termforge/internal/metrics"
)

// upload dispatches an SFTP transfer on its own goroutine and returns
// immediately (§4.5: "the uploader must not block the shell"). Progress is
// reported exclusively via upload-progress events; callers never poll it.
func (e *entry) upload(taskID, localPath, remotePath string) {
	go e.runUpload(taskID, localPath, remotePath)
}

func (e *entry) runUpload(taskID, localPath, remotePath string) {
	task := UploadTask{
		TaskID:     taskID,
		SessionID:  e.id,
		LocalPath:  localPath,
		RemotePath: remotePath,
		State:      UploadUploading,
	}

	metrics.Get().UploadsActive.Inc()
	defer metrics.Get().UploadsActive.Dec()

	local, err := os.Open(localPath)
	if err != nil {
		e.failUpload(task, fmt.Errorf("open local file: %w", err))
		return
	}
	defer local.Close()

	info, err := local.Stat()
	if err != nil {
		e.failUpload(task, fmt.Errorf("stat local file: %w", err))
		return
	}
	task.TotalBytes = info.Size()
	e.bus.Publish(topicUploadProgress, task)

	buf := make([]byte, sftpChunkSize)
	var uploaded int64
	started := time.Now()

	for {
		n, readErr := local.Read(buf)
		if n > 0 {
			if err := e.writeChunk(remotePath, buf[:n], uploaded); err != nil {
				e.failUpload(task, fmt.Errorf("write remote chunk at offset %d: %w", uploaded, err))
				return
			}
			uploaded += int64(n)
			metrics.Get().UploadBytesTotal.Add(float64(n))

			elapsed := time.Since(started).Seconds()
			task.UploadedBytes = uploaded
			if task.TotalBytes > 0 {
				task.Progress = clamp(100 * float64(uploaded) / float64(task.TotalBytes))
			}
			if elapsed > 0 {
				task.SpeedBps = float64(uploaded) / elapsed
				metrics.Get().UploadSpeedBps.Observe(task.SpeedBps)
			}
			e.bus.Publish(topicUploadProgress, task)
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				e.failUpload(task, fmt.Errorf("read local file: %w", readErr))
				return
			}
			break
		}

		// Yield the transport mutex between chunks so the interactive pump
		// keeps making progress on the shared connection (§4.5).
		time.Sleep(sftpYield)
	}

	task.State = UploadSuccess
	task.Progress = 100
	e.bus.Publish(topicUploadProgress, task)
	e.log.Info("upload complete",
		zap.String("task_id", taskID),
		zap.Int64("bytes", uploaded),
	)
}

// writeChunk opens (or reopens) the remote file under the transport mutex
// in blocking mode, seeks to offset, writes data, and closes the handle.
// Per §4.5 the handle is not kept open across chunks: each chunk is its own
// WRITE|CREATE|TRUNCATE-on-first-chunk, WRITE-with-seek-otherwise open.
func (e *entry) writeChunk(remotePath string, data []byte, offset int64) error {
	return e.transport.withBlocking(func() error {
		client, err := e.transport.newSFTPClient()
		if err != nil {
			return err
		}
		defer client.Close()

		flags := os.O_WRONLY
		if offset == 0 {
			flags |= os.O_CREATE | os.O_TRUNC
		}
		f, err := client.OpenFile(remotePath, flags)
		if err != nil {
			return err
		}
		defer f.Close()

		if offset > 0 {
			if _, err := f.Seek(offset, 0); err != nil {
				return err
			}
		}
		_, err = f.Write(data)
		return err
	})
}

func (e *entry) failUpload(task UploadTask, err error) {
	task.State = UploadError
	task.Error = err.Error()
	e.bus.Publish(topicUploadProgress, task)
	e.log.Warn("upload failed", zap.String("task_id", task.TaskID), zap.Error(err))
	metrics.Get().UploadFailureTotal.Inc()
}

// probePath resolves the remote shell's working directory, per §4.6: under
// the transport mutex in blocking mode, run pwd and trim the result.
func (e *entry) probePath() (string, error) {
	if e.transport.isLocal() {
		wd, err := os.Getwd()
		if err != nil {
			return "", errOperation(fmt.Sprintf("getwd: %v", err))
		}
		return wd, nil
	}

	var path string
	err := e.transport.withBlocking(func() error {
		r, err := e.transport.newExecChannel("pwd")
		if err != nil {
			return err
		}
		buf := make([]byte, 4096)
		n, _ := r.Read(buf)
		path = trimTrailingWhitespace(string(buf[:n]))
		return nil
	})
	if err != nil {
		return "", errOperation(fmt.Sprintf("probe path: %v", err))
	}
	return path, nil
}

func trimTrailingWhitespace(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}
