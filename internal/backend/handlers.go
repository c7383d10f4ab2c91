package backend

import (
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"

	"school-session-agent/internal/domain"
)

// IdempotencyHeader identifies a batch delivery; replays with the same key are acknowledged without storing.
const IdempotencyHeader = "Idempotency-Key"

func (s *Server) getActivity(c echo.Context) error {
	act, err := s.opts.Activities.LoadActivity(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errors.Wrap(err, "loading activity")
	}
	return c.JSON(http.StatusOK, act.WithoutAnswerKey())
}

func (s *Server) submitAttempt(c echo.Context) error {
	ctx := c.Request().Context()
	act, err := s.opts.Activities.LoadActivity(ctx, c.Param("id"))
	if err != nil {
		return errors.Wrap(err, "loading activity")
	}

	attempt := domain.Attempt{
		ID:          uuid.NewString(),
		ActivityID:  act.ID,
		StudentID:   contextClaims(c).Subject,
		SubmittedAt: s.opts.Now().UTC(),
	}

	switch act.Kind {
	case domain.KindQuiz:
		var sub domain.QuizSubmission
		if err := c.Bind(&sub); err != nil {
			return err
		}
		score, maxScore, err := Grade(act, sub)
		if err != nil {
			return err
		}
		attempt.Selections = sub.Selections
		attempt.Score, attempt.MaxScore = score, maxScore
	case domain.KindTask:
		text := c.FormValue("text")
		file, err := s.readUpload(c, "file")
		if err != nil {
			return err
		}
		if err := domain.ValidateTask(act.SubmissionType, text, file); err != nil {
			return err
		}
		if act.SubmissionType.RequiresText() {
			attempt.Text = text
		}
		if act.SubmissionType.RequiresFile() {
			attempt.FileName, attempt.File = file.Name, file.Data
		}
	default:
		return errors.Errorf("activity %s has unsupported kind %q", act.ID, act.Kind)
	}

	if err := s.opts.Store.SaveAttempt(ctx, attempt); err != nil {
		return errors.Wrap(err, "saving attempt")
	}
	s.opts.Logger.Infof("attempt %s on %s by %s", attempt.ID, act.ID, attempt.StudentID)

	res := domain.SubmissionResult{
		AttemptID:   attempt.ID,
		ActivityID:  act.ID,
		SubmittedAt: attempt.SubmittedAt,
	}
	if act.Kind == domain.KindQuiz && act.ScoreVisibility == domain.VisibleImmediate {
		res.Score, res.MaxScore = &attempt.Score, &attempt.MaxScore
	}
	return c.JSON(http.StatusCreated, res)
}

// readUpload returns the named multipart file, or nil when the request carries none.
func (s *Server) readUpload(c echo.Context, field string) (*domain.Attachment, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable upload").SetInternal(err)
	}
	if fh.Size > s.opts.MaxUploadBytes {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, errors.Wrap(err, "opening upload")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.opts.MaxUploadBytes))
	if err != nil {
		return nil, errors.Wrap(err, "reading upload")
	}
	return &domain.Attachment{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}, nil
}

func (s *Server) submitRecords(c echo.Context) error {
	sessionID := c.Param("id")
	var batch domain.AttendanceBatch
	if err := c.Bind(&batch); err != nil {
		return err
	}
	if key := c.Request().Header.Get(IdempotencyHeader); key != "" {
		batch.ID = key
	}
	if batch.ID == "" {
		return domain.NewValidationError(errors.New("missing idempotency key"),
			domain.FieldError{Field: "idempotencyKey", Error: IdempotencyHeader + " header is required"})
	}
	for _, r := range batch.Records {
		if err := domain.Validate(r); err != nil {
			return err
		}
	}

	created, err := s.opts.Store.SaveBatch(c.Request().Context(), sessionID, batch)
	if err != nil {
		return errors.Wrap(err, "saving attendance batch")
	}
	code := http.StatusCreated
	if !created {
		code = http.StatusOK
		s.opts.Logger.Debugf("batch %s for session %s replayed", batch.ID, sessionID)
	}
	return c.JSON(code, echo.Map{
		"batchId":   batch.ID,
		"accepted":  len(batch.Records),
		"duplicate": !created,
	})
}

func (s *Server) listRecords(c echo.Context) error {
	records, err := s.opts.Store.SessionRecords(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing attendance records")
	}
	if records == nil {
		records = []domain.AttendanceRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

// studentQR renders the student's badge as a PNG QR code.
func (s *Server) studentQR(c echo.Context) error {
	badge := domain.Badge{
		StudentID: c.Param("id"),
		Name:      c.QueryParam("name"),
		Grade:     c.QueryParam("grade"),
		Center:    c.QueryParam("center"),
	}
	if err := domain.Validate(badge); err != nil {
		return err
	}
	size := 256
	if raw := c.QueryParam("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > 1024 {
			return echo.NewHTTPError(http.StatusBadRequest, "size must be between 64 and 1024")
		}
		size = n
	}
	png, err := qrcode.Encode(badge.Encode(), qrcode.Medium, size)
	if err != nil {
		return errors.Wrap(err, "encoding qr")
	}
	return c.Blob(http.StatusOK, "image/png", png)
}
