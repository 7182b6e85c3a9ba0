package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/api"
	"github.com/stemsi/exstem-participant/internal/config"
	"github.com/stemsi/exstem-participant/internal/model"
	"github.com/stemsi/exstem-participant/internal/session"
	"github.com/stemsi/exstem-participant/internal/store"
)

type outcome int

const (
	outcomeDone outcome = iota
	outcomeLoginAgain
	outcomeFailed
)

// errSubmitted ends the command loop after a confirmed submission.
var errSubmitted = errors.New("submitted")

// reminderMarks are the remaining-time points announced once each.
var reminderMarks = []time.Duration{10 * time.Minute, 5 * time.Minute, time.Minute}

// runExam bootstraps the stored identity's session and drives it from the
// console until it is submitted, abandoned or fails.
func runExam(ctx context.Context, cfg *config.Config, log zerolog.Logger, con *console, client *api.Client, st store.SessionStore) (outcome, error) {
	finished := make(chan bool, 1)
	fatal := make(chan error, 1)
	announced := make(map[time.Duration]bool, len(reminderMarks))

	deps := session.Deps{
		Backend:       client,
		Store:         st,
		Location:      cfg.Location(),
		Notifier:      con,
		Log:           log,
		DraftInterval: cfg.DraftSyncInterval,
		DraftTimeout:  cfg.HTTPTimeout,
		CountdownTick: cfg.CountdownTick,
		RedirectDelay: cfg.AutoSubmitRedirect,
		OnTick: func(remaining time.Duration) {
			for _, mark := range reminderMarks {
				if remaining > 0 && remaining <= mark && !announced[mark] {
					announced[mark] = true
					con.Notify(session.LevelWarning, fmt.Sprintf("Sisa waktu %s", formatRemaining(remaining)))
				}
			}
		},
		OnFinished: func(auto bool) {
			select {
			case finished <- auto:
			default:
			}
		},
		OnFatal: func(err error) {
			select {
			case fatal <- err:
			default:
			}
		},
	}

	sess, err := session.Bootstrap(ctx, deps)
	if err != nil {
		if errors.Is(err, session.ErrIdentityMissing) {
			return outcomeLoginAgain, err
		}
		return outcomeFailed, err
	}
	sess.Start(ctx)
	defer sess.Close()

	screen := &examScreen{sess: sess, con: con}
	screen.header()
	screen.list()

	for {
		if !con.pending {
			con.printf("> ")
		}
		select {
		case <-ctx.Done():
			return outcomeDone, nil

		case auto := <-finished:
			if auto {
				con.printf("\nJawaban Anda telah dikumpulkan. Terima kasih.\n")
			}
			return outcomeDone, nil

		case err := <-fatal:
			return outcomeLoginAgain, err

		case r := <-con.nextLine():
			line, err := con.got(r)
			if err != nil {
				return outcomeDone, nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				con.printf("%v\n", err)
				continue
			}
			if cmd.name == "" {
				continue
			}
			if cmd.name == "quit" {
				con.printf("Jawaban tersimpan di perangkat ini. Sampai jumpa.\n")
				return outcomeDone, nil
			}
			err = screen.handle(ctx, cmd)
			switch {
			case err == nil:
			case errors.Is(err, errSubmitted):
				con.printf("\nJawaban Anda telah dikumpulkan. Terima kasih.\n")
				return outcomeDone, nil
			case session.IsFatal(err):
				return outcomeLoginAgain, err
			default:
				con.printf("%s\n", userMessage(err))
			}
		}
	}
}

// command is one parsed console line.
type command struct {
	name string
	n    int
	args []string
}

var commandArity = map[string]bool{
	"show": true, "answer": true, "clear": true, "flag": true, "upload": true, "remove": true,
}

var commandAliases = map[string]string{
	"ls": "list", "s": "show", "a": "answer", "f": "flag", "ya": "yes", "y": "yes",
	"tidak": "no", "n": "no", "q": "quit", "exit": "quit", "?": "help",
}

// parseCommand splits "verb [number] [args...]". Verbs that address a
// question require its 1-based number.
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}
	name := strings.ToLower(fields[0])
	if alias, ok := commandAliases[name]; ok {
		name = alias
	}
	switch name {
	case "list", "time", "submit", "yes", "no", "help", "quit":
		return command{name: name}, nil
	}
	if !commandArity[name] {
		return command{}, fmt.Errorf("perintah %q tidak dikenal, ketik help", fields[0])
	}
	if len(fields) < 2 {
		return command{}, fmt.Errorf("nomor soal wajib diisi: %s <nomor>", name)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 1 {
		return command{}, fmt.Errorf("nomor soal tidak valid: %s", fields[1])
	}
	cmd := command{name: name, n: n}
	if name == "answer" {
		// Keep free text intact after the number.
		rest := strings.TrimSpace(line)
		rest = strings.TrimSpace(rest[len(fields[0]):])
		rest = strings.TrimSpace(rest[len(fields[1]):])
		if rest != "" {
			cmd.args = []string{rest}
		}
	} else {
		cmd.args = fields[2:]
	}
	if (name == "answer" || name == "upload" || name == "remove") && len(cmd.args) == 0 {
		return command{}, fmt.Errorf("perintah %s membutuhkan nilai", name)
	}
	return cmd, nil
}

type examScreen struct {
	sess *session.Session
	con  *console
}

func (x *examScreen) handle(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "list":
		x.list()
		return nil
	case "time":
		x.con.printf("Sisa waktu %s\n", formatRemaining(x.sess.Remaining()))
		return nil
	case "help":
		x.help()
		return nil
	case "submit":
		return x.requestSubmit()
	case "yes":
		if err := x.sess.Submission.Confirm(ctx); err != nil {
			return err
		}
		return errSubmitted
	case "no":
		x.sess.Submission.Cancel()
		x.con.printf("Pengumpulan dibatalkan.\n")
		return nil
	}

	q, ok := x.sess.Question(cmd.n)
	if !ok {
		return fmt.Errorf("soal nomor %d tidak ada, ujian ini memiliki %d soal", cmd.n, len(x.sess.Questions))
	}

	switch cmd.name {
	case "show":
		x.show(cmd.n, q)
		return nil

	case "answer":
		ans, err := answerFor(q, cmd.args[0])
		if err != nil {
			return err
		}
		return x.sess.Answers.SetAnswer(ctx, q.ID, ans)

	case "clear":
		if q.Type == model.QuestionTypeDocumentUpload {
			return x.sess.Documents.ClearFiles(ctx, q.ID)
		}
		return x.sess.Answers.ClearAnswer(ctx, q.ID)

	case "flag":
		flagged, err := x.sess.Answers.ToggleFlag(ctx, q.ID)
		if err != nil {
			return err
		}
		if flagged {
			x.con.printf("Soal %d ditandai ragu-ragu.\n", cmd.n)
		} else {
			x.con.printf("Tanda ragu-ragu soal %d dihapus.\n", cmd.n)
		}
		return nil

	case "upload":
		files := make([]session.FileInput, 0, len(cmd.args))
		for _, p := range cmd.args {
			f, err := session.LocalFile(p)
			if err != nil {
				return fmt.Errorf("berkas %s tidak dapat dibaca", p)
			}
			files = append(files, f)
		}
		report, err := x.sess.Documents.AddFiles(ctx, q.ID, files)
		if err != nil {
			return err
		}
		x.con.printf("%d berkas terunggah, %d gagal.\n", len(report.Uploaded), len(report.Failed))
		return nil

	case "remove":
		i, err := strconv.Atoi(cmd.args[0])
		if err != nil {
			return fmt.Errorf("nomor berkas tidak valid: %s", cmd.args[0])
		}
		return x.sess.Documents.RemoveFile(ctx, q.ID, i-1)
	}
	return nil
}

func (x *examScreen) requestSubmit() error {
	if err := x.sess.Submission.RequestSubmit(); err != nil {
		return err
	}
	answered, flagged := x.sess.Progress()
	x.con.printf("Terjawab %d dari %d soal", answered, len(x.sess.Questions))
	if flagged > 0 {
		x.con.printf(", %d ditandai ragu-ragu", flagged)
	}
	x.con.printf(".\nKumpulkan jawaban sekarang? Jawaban tidak dapat diubah lagi. (ya/tidak)\n")
	return nil
}

func (x *examScreen) header() {
	x.con.printf("\n%s\nPeserta: %s   Sisa waktu: %s\n\n",
		x.sess.Exam.Title, x.sess.Identity.Name, formatRemaining(x.sess.Remaining()))
}

func (x *examScreen) list() {
	snap := x.sess.Answers.Snapshot()
	for i, q := range x.sess.Questions {
		mark := " "
		if _, ok := snap[q.ID]; ok {
			mark = "✓"
		}
		if x.sess.Answers.Flagged(q.ID) {
			mark += "?"
		} else {
			mark += " "
		}
		x.con.printf("[%s] %2d. %s\n", mark, i+1, truncate(q.Prompt, 60))
	}
	answered, flagged := x.sess.Progress()
	x.con.printf("Terjawab %d/%d, ragu-ragu %d, sisa waktu %s\n", answered, len(x.sess.Questions), flagged, formatRemaining(x.sess.Remaining()))
}

func (x *examScreen) show(n int, q *model.Question) {
	x.con.printf("\nSoal %d (%s)\n%s\n", n, typeLabel(q.Type), q.Prompt)
	if q.ImageURL != "" {
		x.con.printf("Gambar: %s\n", q.ImageURL)
	}
	ans, answered := x.sess.Answers.Answer(q.ID)

	switch q.Type {
	case model.QuestionTypeMultipleChoice:
		for i, o := range q.Options {
			mark := " "
			if answered && ans.Value == o.ID {
				mark = "•"
			}
			x.con.printf(" %s %c. %s\n", mark, 'A'+i, o.Text)
		}
	case model.QuestionTypeDocumentUpload:
		if c := q.Document; c != nil {
			x.con.printf("Format: %s, maks %d berkas, maks %.0f MB per berkas\n",
				strings.Join(c.AllowedTypes, ", "), c.MaxCount, c.MaxSizeMB)
		}
		for i, f := range x.sess.Documents.Files(q.ID) {
			x.con.printf(" %d. %s\n", i+1, f.Name)
		}
	default:
		if answered {
			x.con.printf("Jawaban: %s\n", ans.Value)
		}
	}
	if x.sess.Answers.Flagged(q.ID) {
		x.con.printf("(ditandai ragu-ragu)\n")
	}
}

func (x *examScreen) help() {
	x.con.printf(`Perintah:
  list                  daftar soal
  show <n>              tampilkan soal
  answer <n> <jawaban>  jawab soal (pilihan ganda: huruf opsi)
  clear <n>             hapus jawaban
  flag <n>              tandai/hapus tanda ragu-ragu
  upload <n> <berkas>…  unggah dokumen
  remove <n> <i>        hapus berkas ke-i
  time                  sisa waktu
  submit                kumpulkan jawaban
  quit                  keluar, jawaban tetap tersimpan
`)
}

// answerFor turns console input into a typed answer. Multiple-choice input
// is an option letter as displayed, or the option id itself.
func answerFor(q *model.Question, input string) (model.Answer, error) {
	switch q.Type {
	case model.QuestionTypeMultipleChoice:
		if len(input) == 1 {
			i := int(strings.ToUpper(input)[0]) - 'A'
			if i >= 0 && i < len(q.Options) {
				return model.OptionAnswer(q.Options[i].ID), nil
			}
		}
		if _, ok := q.OptionByID(input); ok {
			return model.OptionAnswer(input), nil
		}
		return model.Answer{}, fmt.Errorf("opsi %q tidak ada", input)
	case model.QuestionTypeShortText, model.QuestionTypeEssay:
		return model.TextAnswer(q.Type, input), nil
	}
	return model.Answer{}, errors.New("soal unggah dokumen dijawab dengan perintah upload")
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrConfirmationRequired):
		return "Ketik submit terlebih dahulu."
	case errors.Is(err, session.ErrSubmissionInProgress):
		return "Pengumpulan jawaban sedang berlangsung."
	case errors.Is(err, session.ErrAlreadySubmitted):
		return "Jawaban sudah dikumpulkan."
	case errors.Is(err, session.ErrTimeUp):
		return "Waktu ujian habis, jawaban tidak dapat diubah. Ketik submit untuk mengumpulkan."
	case errors.Is(err, session.ErrFileIndex):
		return "Nomor berkas tidak ada."
	case errors.Is(err, session.ErrTooManyFiles):
		return "Jumlah berkas melebihi batas."
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func typeLabel(t model.QuestionType) string {
	switch t {
	case model.QuestionTypeMultipleChoice:
		return "pilihan ganda"
	case model.QuestionTypeShortText:
		return "isian singkat"
	case model.QuestionTypeEssay:
		return "esai"
	case model.QuestionTypeDocumentUpload:
		return "unggah dokumen"
	}
	return string(t)
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
