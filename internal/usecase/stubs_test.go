package usecase

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/medical-ai/internal/classifier"
	"github.com/example/medical-ai/internal/repository"
)

type stubPredictions struct {
	mu          sync.Mutex
	records     []repository.PredictionRecord
	createErr   error
	findErr     error
	pingErr     error
	lastFilter  repository.ListFilter
	findCalls   int
	countCalls  int
	sinceCalled time.Time
}

func (s *stubPredictions) Create(ctx context.Context, rec *repository.PredictionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.records = append(s.records, *rec)
	return nil
}

func (s *stubPredictions) FindByID(ctx context.Context, id string) (*repository.PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	for i := range s.records {
		if s.records[i].ID == id {
			rec := s.records[i]
			return &rec, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubPredictions) List(ctx context.Context, filter repository.ListFilter) ([]repository.PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	var matched []repository.PredictionRecord
	for _, rec := range s.records {
		if filter.Email == "" || rec.UserEmail == filter.Email {
			matched = append(matched, rec)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if filter.Skip >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Skip:]
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *stubPredictions) Count(ctx context.Context, email string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCalls++
	var n int64
	for _, rec := range s.records {
		if email == "" || rec.UserEmail == email {
			n++
		}
	}
	return n, nil
}

func (s *stubPredictions) CountSince(ctx context.Context, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinceCalled = since
	var n int64
	for _, rec := range s.records {
		if !rec.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *stubPredictions) ClassCounts(ctx context.Context, email string) ([]repository.ClassCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byClass := map[string]*repository.ClassCount{}
	var order []string
	for _, rec := range s.records {
		if rec.UserEmail != email {
			continue
		}
		c, ok := byClass[rec.PredictedClass]
		if !ok {
			c = &repository.ClassCount{PredictedClass: rec.PredictedClass}
			byClass[rec.PredictedClass] = c
			order = append(order, rec.PredictedClass)
		}
		c.Count++
		c.ConfidenceTotal += rec.ConfidenceScore
	}
	out := make([]repository.ClassCount, 0, len(order))
	for _, label := range order {
		out = append(out, *byClass[label])
	}
	return out, nil
}

func (s *stubPredictions) Ping(ctx context.Context) error {
	return s.pingErr
}

type stubUsers struct {
	mu        sync.Mutex
	byEmail   map[string]*repository.User
	recordErr error
	findErr   error
}

func newStubUsers() *stubUsers {
	return &stubUsers{byEmail: map[string]*repository.User{}}
}

func (s *stubUsers) Create(ctx context.Context, user *repository.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.Email = repository.NormalizeEmail(user.Email)
	if _, ok := s.byEmail[user.Email]; ok {
		return repository.ErrDuplicate
	}
	if user.ID == "" {
		user.ID = "user-" + user.Email
	}
	user.CreatedAt = time.Now().UTC()
	stored := *user
	s.byEmail[user.Email] = &stored
	return nil
}

func (s *stubUsers) FindByEmail(ctx context.Context, email string) (*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	user, ok := s.byEmail[repository.NormalizeEmail(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *user
	return &out, nil
}

func (s *stubUsers) FindByID(ctx context.Context, id string) (*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.byEmail {
		if user.ID == id {
			out := *user
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubUsers) RecordPrediction(ctx context.Context, newUser *repository.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	email := repository.NormalizeEmail(newUser.Email)
	if user, ok := s.byEmail[email]; ok {
		user.TotalPredictions++
		return nil
	}
	stored := *newUser
	stored.ID = "user-" + email
	stored.Email = email
	stored.TotalPredictions = 1
	s.byEmail[email] = &stored
	return nil
}

type stubModel struct {
	outcome classifier.Outcome
	run     classifier.RunInfo
	err     error
	loaded  bool
	calls   int
}

func newStubModel(class classifier.Class, confidence float64) *stubModel {
	var dist classifier.Distribution
	rest := (1 - confidence) / float64(classifier.NumClasses-1)
	for i := range dist {
		dist[i] = rest
	}
	dist[class] = confidence
	return &stubModel{
		outcome: classifier.Outcome{Class: class, Confidence: confidence, Distribution: dist},
		run:     classifier.RunInfo{Width: 4, Height: 3, Elapsed: 25 * time.Millisecond},
		loaded:  true,
	}
}

func (s *stubModel) Predict(ctx context.Context, data []byte) (classifier.Outcome, classifier.RunInfo, error) {
	s.calls++
	if s.err != nil {
		return classifier.Outcome{}, classifier.RunInfo{}, s.err
	}
	return s.outcome, s.run, nil
}

func (s *stubModel) Info() classifier.ModelInfo {
	return classifier.ModelInfo{
		ModelVersion: "test-1",
		Classes:      classifier.Labels(),
		InputSize:    [2]int{classifier.InputWidth, classifier.InputHeight},
		TotalClasses: classifier.NumClasses,
		Backend:      "stub",
		Loaded:       s.loaded,
	}
}

func (s *stubModel) Loaded() bool { return s.loaded }

type recordingListener struct {
	mu     sync.Mutex
	events []Prediction
}

func (r *recordingListener) PredictionCreated(p Prediction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

type stubTokens struct {
	err error
}

func (s stubTokens) Issue(userID, email string) (string, time.Time, error) {
	if s.err != nil {
		return "", time.Time{}, s.err
	}
	return "token-" + userID, time.Now().Add(time.Hour), nil
}

func (s stubTokens) Lifetime() time.Duration { return time.Hour }

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
