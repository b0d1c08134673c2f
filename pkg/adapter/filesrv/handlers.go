package filesrv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/sharebox/internal/logger"
	"github.com/marmos91/sharebox/pkg/lock"
	"github.com/marmos91/sharebox/pkg/metrics"
	"github.com/marmos91/sharebox/pkg/naming"
	"github.com/marmos91/sharebox/pkg/protocol"
	"github.com/marmos91/sharebox/pkg/storage"
	"github.com/marmos91/sharebox/pkg/transfer"
)

// Client-facing messages owned by the handlers.
const (
	msgFolderCreated      = "Folder created"
	msgFolderDeleted      = "Folder deleted"
	msgUnknownSubcommand  = "Unknown SUBFOLDER subcommand"
	msgFileDeleted        = "File deleted"
	msgFileDoesNotExist   = "File does not exist"
	msgFileNotFound       = "File not found"
	msgUploadCancelled    = "Upload cancelled"
	msgUploadComplete     = "Upload complete: "
	msgDownloadComplete   = "Download complete"
	msgFileTooLarge       = "File too large"
	msgTargetIsDirectory  = "Target is a directory"
	usageSubfolder        = "SUBFOLDER <create|delete> <path>"
	usageDelete           = "DELETE <path>"
	usageUpload           = "UPLOAD <path> <filesize_bytes>"
	usageDownload         = "DOWNLOAD <path>"
	subfolderCreate       = "create"
	subfolderDelete       = "delete"
	defaultDirPermissions = 0755
	defaultFilePermission = 0644
)

func (c *FileServerConnection) recordAction(kind metrics.ActionKind, rel string, size int64, d time.Duration, err error) {
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailure
	}
	c.server.backend.Sink.RecordAction(kind, rel, size, d, c.session.ClientID, status)
}

// handleDir lists the whole tree below the root.
//
// Wire: DIR -> OK@a.txt,docs/,docs/b.txt | OK@<empty>
func (c *FileServerConnection) handleDir(ctx context.Context, _ protocol.Command) error {
	start := time.Now()
	entries, err := c.server.backend.Root.List(ctx)
	c.recordAction(metrics.ActionDir, "", 0, time.Since(start), err)
	if err != nil {
		return protocol.Classify(err)
	}

	if len(entries) == 0 {
		return c.reply(protocol.OK(protocol.EmptyListing))
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.String()
	}
	return c.reply(protocol.OK(strings.Join(names, ",")))
}

// handleSubfolder creates a directory (with parents) or removes an empty one.
//
// Wire: SUBFOLDER create|delete <path> -> OK@Folder created | OK@Folder deleted
func (c *FileServerConnection) handleSubfolder(_ context.Context, cmd protocol.Command) error {
	if len(cmd.Args) < 2 {
		return protocol.Usage(usageSubfolder)
	}

	root := c.server.backend.Root
	rel := cmd.Path(1, len(cmd.Args))
	target, err := root.Resolve(rel)
	if err != nil {
		return protocol.Classify(err)
	}

	switch strings.ToLower(cmd.Args[0]) {
	case subfolderCreate:
		start := time.Now()
		err := os.MkdirAll(target, defaultDirPermissions)
		c.recordAction(metrics.ActionSubfolderCreate, rel, 0, time.Since(start), err)
		if err != nil {
			return protocol.Classify(err)
		}
		logger.Info("Session %s created folder %s", c.session.ID, rel)
		return c.reply(protocol.OK(msgFolderCreated))

	case subfolderDelete:
		start := time.Now()
		err := removeEmptyDir(root, target)
		c.recordAction(metrics.ActionSubfolderDelete, rel, 0, time.Since(start), err)
		if err != nil {
			return protocol.Classify(err)
		}
		logger.Info("Session %s deleted folder %s", c.session.ID, rel)
		return c.reply(protocol.OK(msgFolderDeleted))

	default:
		return protocol.Protocolf(msgUnknownSubcommand)
	}
}

// removeEmptyDir removes target only if it is an empty directory. The root
// itself can never be removed.
func removeEmptyDir(root *storage.Root, target string) error {
	if target == root.Path() {
		return fmt.Errorf("%w: cannot remove storage root", storage.ErrInvalidPath)
	}

	info, err := os.Lstat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "rmdir", Path: target, Err: syscall.ENOTDIR}
	}

	// os.Remove on a directory is rmdir, which refuses non-empty directories.
	return os.Remove(target)
}

// handleDelete removes a regular file under its path lock.
//
// Wire: DELETE <path> -> OK@File deleted
func (c *FileServerConnection) handleDelete(_ context.Context, cmd protocol.Command) error {
	if len(cmd.Args) < 1 {
		return protocol.Usage(usageDelete)
	}

	rel := cmd.Path(0, len(cmd.Args))
	target, err := c.server.backend.Root.Resolve(rel)
	if err != nil {
		return protocol.Classify(err)
	}

	if _, ok := storage.IsRegularFile(target); !ok {
		return protocol.NotFound(msgFileDoesNotExist)
	}

	// The deferred release covers panics; success paths release explicitly so
	// the path is free before the client sees the reply.
	release, ok := c.server.backend.Locks.TryAcquire(target)
	if !ok {
		c.recordAction(metrics.ActionDelete, rel, 0, 0, lock.ErrBusy)
		return protocol.Classify(lock.ErrBusy)
	}
	defer release()

	start := time.Now()
	err = os.Remove(target)
	release()
	c.recordAction(metrics.ActionDelete, rel, 0, time.Since(start), err)
	if err != nil {
		return protocol.Classify(err)
	}

	logger.Info("Session %s deleted %s", c.session.ID, rel)
	return c.reply(protocol.OK(msgFileDeleted))
}

// handleUpload receives a file into the storage root.
//
// Wire:
//
//	UPLOAD <path> <size>
//	  [<- OK@EXISTS, -> y|n]
//	  <- READY@<size>
//	  -> <size raw bytes>
//	  <- OK@Upload complete: <stored path> | ERROR@<reason>
//
// The client's file name is kept if it already looks server-allocated,
// otherwise a fresh <PREFIX><NNN> name is allocated in the target directory.
// Bytes land in a hidden temp file that is renamed over the target only once
// every byte has arrived.
func (c *FileServerConnection) handleUpload(_ context.Context, cmd protocol.Command) error {
	if len(cmd.Args) < 2 {
		return protocol.Usage(usageUpload)
	}

	size, err := protocol.ParseSize(cmd.Args[len(cmd.Args)-1])
	if err != nil {
		return err
	}
	if limit := c.server.config.MaxUploadBytes; limit > 0 && size > limit {
		return protocol.Protocolf(msgFileTooLarge)
	}

	root := c.server.backend.Root
	requested := strings.TrimLeft(strings.ReplaceAll(cmd.Path(0, -1), `\`, "/"), "/")
	relDir, name := path.Split(requested)
	relDir = strings.Trim(relDir, "/")

	dirAbs, err := root.Resolve(relDir)
	if err != nil {
		return protocol.Classify(err)
	}

	stored := name
	if !naming.IsAllocated(name) {
		ext := splitExt(name)
		if stored, err = naming.Allocate(dirAbs, naming.PrefixFor(ext), ext); err != nil {
			return protocol.Classify(err)
		}
	}

	storedRel := path.Join(relDir, stored)
	target, err := root.Resolve(storedRel)
	if err != nil {
		return protocol.Classify(err)
	}

	if err := os.MkdirAll(filepath.Dir(target), defaultDirPermissions); err != nil {
		return protocol.Classify(err)
	}

	if info, err := os.Stat(target); err == nil {
		if info.IsDir() {
			return &protocol.RequestError{Kind: protocol.KindIO, Message: msgTargetIsDirectory}
		}
		if err := c.reply(protocol.OK(protocol.PayloadExists)); err != nil {
			return err
		}
		answer, err := c.readAnswer()
		if err != nil {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(answer), protocol.AnswerOverwrite) {
			c.recordAction(metrics.ActionUpload, storedRel, size, 0, errors.New(msgUploadCancelled))
			return protocol.Protocolf(msgUploadCancelled)
		}
	}

	release, ok := c.server.backend.Locks.TryAcquire(target)
	if !ok {
		c.recordAction(metrics.ActionUpload, storedRel, size, 0, lock.ErrBusy)
		return protocol.Classify(lock.ErrBusy)
	}
	defer release()

	tmp := filepath.Join(filepath.Dir(target), storage.TempName(uuid.NewString()))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, defaultFilePermission)
	if err != nil {
		return protocol.Classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err := c.reply(protocol.Ready(size)); err != nil {
		return err
	}

	start := time.Now()
	n, err := c.server.engine.RecvExact(c.reader, size, f)
	c.server.metrics.RecordBytesTransferred(metrics.DirectionUpload, n)
	if err == nil {
		err = f.Close()
		if err == nil {
			err = os.Rename(tmp, target)
		}
		committed = err == nil
	}
	release()
	elapsed := time.Since(start)
	c.recordAction(metrics.ActionUpload, storedRel, n, elapsed, err)

	if errors.Is(err, transfer.ErrShortRead) {
		// The byte stream is no longer aligned with command lines; report and
		// end the session.
		logger.Warn("Session %s upload of %s incomplete: %v", c.session.ID, storedRel, err)
		_ = c.reply(protocol.Classify(err).Reply())
		return err
	}
	if err != nil {
		return protocol.Classify(err)
	}

	logger.Info("Session %s uploaded %s (%d bytes, %.2f MB/s)",
		c.session.ID, storedRel, n, metrics.Throughput(n, elapsed))
	return c.reply(protocol.OK(msgUploadComplete + storedRel))
}

// handleDownload streams a file to the client.
//
// Wire:
//
//	DOWNLOAD <path>
//	  <- FILEINFO@<size>
//	  -> READY
//	  <- <size raw bytes>
//	  [<- OK@Download complete]
//
// Any acknowledgement other than READY aborts the download without a reply.
func (c *FileServerConnection) handleDownload(_ context.Context, cmd protocol.Command) error {
	if len(cmd.Args) < 1 {
		return protocol.Usage(usageDownload)
	}

	rel := cmd.Path(0, len(cmd.Args))
	target, err := c.server.backend.Root.Resolve(rel)
	if err != nil {
		return protocol.Classify(err)
	}

	if _, ok := storage.IsRegularFile(target); !ok {
		return protocol.NotFound(msgFileNotFound)
	}

	release, ok := c.server.backend.Locks.TryAcquire(target)
	if !ok {
		c.recordAction(metrics.ActionDownload, rel, 0, 0, lock.ErrBusy)
		return protocol.Classify(lock.ErrBusy)
	}
	defer release()

	f, err := os.Open(target)
	if err != nil {
		return protocol.Classify(err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return protocol.Classify(err)
	}
	size := info.Size()

	if err := c.reply(protocol.FileInfo(size)); err != nil {
		return err
	}

	ack, err := c.readAnswer()
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(ack), protocol.AckReady) {
		logger.Debug("Session %s download of %s aborted by client (ack %q)", c.session.ID, rel, ack)
		c.recordAction(metrics.ActionDownload, rel, 0, 0, errors.New("not acknowledged"))
		return nil
	}

	start := time.Now()
	n, err := c.server.engine.SendExact(c.stream, io.LimitReader(f, size))
	elapsed := time.Since(start)
	release()
	c.server.metrics.RecordBytesTransferred(metrics.DirectionDownload, n)

	if err == nil && n < size {
		err = fmt.Errorf("%s shrank during download: sent %d of %d bytes", rel, n, size)
	}
	c.recordAction(metrics.ActionDownload, rel, n, elapsed, err)
	if err != nil {
		// A partial stream cannot be resynchronised.
		return err
	}

	logger.Info("Session %s downloaded %s (%d bytes, %.2f MB/s)",
		c.session.ID, rel, n, metrics.Throughput(n, elapsed))

	if c.server.config.DownloadTrailer {
		return c.reply(protocol.OK(msgDownloadComplete))
	}
	return nil
}

// splitExt returns the extension of name including its dot. Leading dots
// belong to the stem, so ".bashrc" has no extension.
func splitExt(name string) string {
	stem := strings.TrimLeft(name, ".")
	if i := strings.LastIndex(stem, "."); i >= 0 {
		return stem[i:]
	}
	return ""
}
