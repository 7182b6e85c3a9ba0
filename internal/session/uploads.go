package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/model"
)

// FileInput is a file the participant picked for upload.
type FileInput interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type localFile struct {
	path string
	size int64
}

// LocalFile stats path and returns it as a FileInput.
func LocalFile(p string) (FileInput, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", p)
	}
	return &localFile{path: p, size: info.Size()}, nil
}

func (f *localFile) Name() string                 { return filepath.Base(f.path) }
func (f *localFile) Size() int64                  { return f.size }
func (f *localFile) Open() (io.ReadCloser, error) { return os.Open(f.path) }

type bytesFile struct {
	name string
	data []byte
}

// BytesFile wraps in-memory content as a FileInput.
func BytesFile(name string, data []byte) FileInput {
	return &bytesFile{name: name, data: data}
}

func (f *bytesFile) Name() string { return f.name }
func (f *bytesFile) Size() int64  { return int64(len(f.data)) }
func (f *bytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// FileError reports why one file of a batch was not stored.
type FileError struct {
	Name string
	Err  error
}

func (e *FileError) Error() string { return e.Name + ": " + e.Err.Error() }
func (e *FileError) Unwrap() error { return e.Err }

// UploadReport is the per-file outcome of AddFiles.
type UploadReport struct {
	Uploaded []model.UploadedFile
	Failed   []*FileError
}

type uploader interface {
	Upload(ctx context.Context, questionID, filename string, content io.Reader) (*model.UploadResult, error)
}

// DocumentManager validates and uploads document answers. The file list of
// a question and its answer paths are always updated together.
type DocumentManager struct {
	uploader  uploader
	answers   *AnswerStore
	questions map[string]*model.Question
	notifier  Notifier
	log       zerolog.Logger

	mu    sync.Mutex
	files map[string][]model.UploadedFile
}

func newDocumentManager(up uploader, answers *AnswerStore, questions []model.Question, notifier Notifier, log zerolog.Logger) *DocumentManager {
	byID := make(map[string]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}
	return &DocumentManager{
		uploader:  up,
		answers:   answers,
		questions: byID,
		notifier:  notifier,
		log:       log,
		files:     make(map[string][]model.UploadedFile),
	}
}

// restore rebuilds the file lists from the document answers.
func (m *DocumentManager) restore() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for qid, q := range m.questions {
		if q.Type != model.QuestionTypeDocumentUpload {
			continue
		}
		ans, ok := m.answers.Answer(qid)
		if !ok {
			continue
		}
		list := make([]model.UploadedFile, 0, len(ans.Paths))
		for _, p := range ans.Paths {
			list = append(list, model.UploadedFile{Name: path.Base(p), Path: p, Uploaded: true})
		}
		m.files[qid] = list
	}
}

func (m *DocumentManager) documentQuestion(qid string) (*model.Question, error) {
	q, ok := m.questions[qid]
	if !ok {
		return nil, ErrUnknownQuestion
	}
	if q.Type != model.QuestionTypeDocumentUpload {
		return nil, ErrNotDocumentQuestion
	}
	return q, nil
}

// AddFiles validates the batch and uploads accepted files one at a time.
// A batch that would exceed the file limit is rejected as a whole with
// ErrTooManyFiles; every other problem is reported per file.
func (m *DocumentManager) AddFiles(ctx context.Context, qid string, files []FileInput) (*UploadReport, error) {
	q, err := m.documentQuestion(qid)
	if err != nil {
		return nil, err
	}

	if err := m.answers.Writable(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	limits := q.Document
	existing := len(m.files[qid])
	if limits != nil && limits.MaxCount > 0 && existing+len(files) > limits.MaxCount {
		m.notifier.Notify(LevelWarning, fmt.Sprintf("Maksimal %d file untuk soal ini", limits.MaxCount))
		return nil, fmt.Errorf("%w: %d existing + %d new > %d", ErrTooManyFiles, existing, len(files), limits.MaxCount)
	}

	report := &UploadReport{}
	accepted := make([]FileInput, 0, len(files))
	for _, f := range files {
		if maxBytes := limits.MaxBytes(); maxBytes > 0 && f.Size() > maxBytes {
			report.Failed = append(report.Failed, &FileError{Name: f.Name(), Err: ErrFileTooLarge})
			m.notifier.Notify(LevelWarning, fmt.Sprintf("File %s melebihi batas %g MB", f.Name(), limits.MaxSizeMB))
			continue
		}
		if !limits.Allows(f.Name()) {
			report.Failed = append(report.Failed, &FileError{Name: f.Name(), Err: ErrUnsupportedFileType})
			m.notifier.Notify(LevelWarning, fmt.Sprintf("Tipe file %s tidak diizinkan", f.Name()))
			continue
		}
		accepted = append(accepted, f)
	}

	for _, f := range accepted {
		uploaded, err := m.uploadOne(ctx, qid, f)
		if err != nil {
			m.log.Warn().Err(err).Str("question_id", qid).Str("file", f.Name()).Msg("Upload failed")
			report.Failed = append(report.Failed, &FileError{Name: f.Name(), Err: err})
			m.notifier.Notify(LevelError, fmt.Sprintf("Gagal mengunggah %s", f.Name()))
			continue
		}

		m.files[qid] = append(m.files[qid], uploaded)
		if err := m.syncAnswerLocked(ctx, qid); err != nil && isRefused(err) {
			// The answer is frozen; keep the list equal to it.
			m.files[qid] = m.files[qid][:len(m.files[qid])-1]
			report.Failed = append(report.Failed, &FileError{Name: f.Name(), Err: err})
			continue
		}
		report.Uploaded = append(report.Uploaded, uploaded)
	}

	if len(report.Uploaded) > 0 {
		m.notifier.Notify(LevelInfo, fmt.Sprintf("%d file berhasil diunggah", len(report.Uploaded)))
	}
	return report, nil
}

func (m *DocumentManager) uploadOne(ctx context.Context, qid string, f FileInput) (model.UploadedFile, error) {
	rc, err := f.Open()
	if err != nil {
		return model.UploadedFile{}, fmt.Errorf("open: %w", err)
	}
	defer rc.Close()

	res, err := m.uploader.Upload(ctx, qid, f.Name(), rc)
	if err != nil {
		return model.UploadedFile{}, err
	}
	if res.FilePath == "" {
		return model.UploadedFile{}, errors.New("upload response has no file path")
	}

	name := res.FileName
	if name == "" {
		name = f.Name()
	}
	return model.UploadedFile{Name: name, Path: res.FilePath, Uploaded: true}, nil
}

// RemoveFile drops the file at index from the list and the answer. The file
// stays on the server.
func (m *DocumentManager) RemoveFile(ctx context.Context, qid string, index int) error {
	if _, err := m.documentQuestion(qid); err != nil {
		return err
	}

	if err := m.answers.Writable(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.files[qid]
	if index < 0 || index >= len(list) {
		return fmt.Errorf("%w: %d of %d", ErrFileIndex, index, len(list))
	}
	next := make([]model.UploadedFile, 0, len(list)-1)
	next = append(next, list[:index]...)
	next = append(next, list[index+1:]...)
	m.files[qid] = next
	if err := m.syncAnswerLocked(ctx, qid); err != nil {
		if isRefused(err) {
			m.files[qid] = list
		}
		return err
	}
	return nil
}

// ClearFiles empties the file list and the answer of qid.
func (m *DocumentManager) ClearFiles(ctx context.Context, qid string) error {
	if _, err := m.documentQuestion(qid); err != nil {
		return err
	}

	if err := m.answers.Writable(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.files[qid]
	delete(m.files, qid)
	if err := m.syncAnswerLocked(ctx, qid); err != nil {
		if isRefused(err) && list != nil {
			m.files[qid] = list
		}
		return err
	}
	return nil
}

// Files returns a copy of the current file list of qid.
func (m *DocumentManager) Files(qid string) []model.UploadedFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.files[qid]
	out := make([]model.UploadedFile, len(list))
	copy(out, list)
	return out
}

// syncAnswerLocked rewrites the answer from the file list. The in-memory
// answer is updated even if persisting fails, but not when the store
// refuses the change. Caller holds m.mu.
func (m *DocumentManager) syncAnswerLocked(ctx context.Context, qid string) error {
	list := m.files[qid]
	paths := make([]string, len(list))
	for i, f := range list {
		paths[i] = f.Path
	}
	if err := m.answers.SetAnswer(ctx, qid, model.DocumentAnswer(paths)); err != nil {
		if !isRefused(err) {
			m.log.Error().Err(err).Str("question_id", qid).Msg("Failed to persist document answer")
		}
		return err
	}
	return nil
}
