// Command smoke drives the SOS lifecycle and refresh rotation against a
// running instance and fails when any expected status or error code differs.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type step struct {
	Name     string
	Method   string
	Path     string
	Body     interface{}
	Headers  map[string]string
	Bearer   func() string
	Status   int
	Code     string
	OnResult func(body envelope)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type result struct {
	Step     step
	Status   int
	Code     string
	Duration time.Duration
	Error    error
}

func (r result) ok() bool {
	return r.Error == nil && r.Status == r.Step.Status && r.Code == r.Step.Code
}

type session struct {
	access  string
	refresh string
	stale   string
}

func main() {
	var (
		base     string
		email    string
		password string
		timeout  time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL including prefix")
	flag.StringVar(&email, "email", os.Getenv("SMOKE_EMAIL"), "Login email")
	flag.StringVar(&password, "password", os.Getenv("SMOKE_PASSWORD"), "Login password")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	if email == "" || password == "" {
		log.Fatal("email and password are required")
	}

	client := &http.Client{Timeout: timeout}
	s := &session{}
	key := uuid.NewString()
	var eventID string

	steps := []step{
		{
			Name: "login", Method: http.MethodPost, Path: "/auth/login",
			Body:   map[string]string{"email": email, "password": password},
			Status: http.StatusOK,
			OnResult: func(body envelope) {
				var pair struct {
					AccessToken  string `json:"accessToken"`
					RefreshToken string `json:"refreshToken"`
				}
				_ = json.Unmarshal(body.Data, &pair)
				s.access, s.refresh = pair.AccessToken, pair.RefreshToken
			},
		},
		{
			Name: "trigger", Method: http.MethodPost, Path: "/sos/trigger", Bearer: s.bearer,
			Body:    map[string]float64{"latitude": -6.2, "longitude": 106.8},
			Headers: map[string]string{"Idempotency-Key": key},
			Status:  http.StatusCreated,
			OnResult: func(body envelope) {
				var ev struct {
					ID string `json:"id"`
				}
				_ = json.Unmarshal(body.Data, &ev)
				eventID = ev.ID
			},
		},
		{
			Name: "trigger replay", Method: http.MethodPost, Path: "/sos/trigger", Bearer: s.bearer,
			Body:    map[string]float64{"latitude": -6.2, "longitude": 106.8},
			Headers: map[string]string{"Idempotency-Key": key},
			Status:  http.StatusOK,
			OnResult: func(body envelope) {
				var ev struct {
					ID string `json:"id"`
				}
				_ = json.Unmarshal(body.Data, &ev)
				if ev.ID != eventID {
					log.Printf("replay returned %q, want %q", ev.ID, eventID)
					eventID = ""
				}
			},
		},
		{
			Name: "trigger while active", Method: http.MethodPost, Path: "/sos/trigger", Bearer: s.bearer,
			Body:   map[string]float64{"latitude": 0, "longitude": 0},
			Status: http.StatusConflict, Code: "SOS_ALREADY_ACTIVE",
		},
		{Name: "resolve", Method: http.MethodPost, Path: "/sos/resolve", Bearer: s.bearer, Status: http.StatusOK},
		{Name: "resolve again", Method: http.MethodPost, Path: "/sos/resolve", Bearer: s.bearer, Status: http.StatusConflict, Code: "SOS_NOT_ACTIVE"},
		{Name: "cancel after resolve", Method: http.MethodPost, Path: "/sos/cancel", Bearer: s.bearer, Status: http.StatusConflict, Code: "SOS_NOT_ACTIVE"},
		{
			Name: "rotate", Method: http.MethodPost, Path: "/auth/refresh",
			Body:   s.refreshBody(),
			Status: http.StatusOK,
			OnResult: func(body envelope) {
				var pair struct {
					AccessToken  string `json:"accessToken"`
					RefreshToken string `json:"refreshToken"`
				}
				_ = json.Unmarshal(body.Data, &pair)
				s.stale = s.refresh
				s.access, s.refresh = pair.AccessToken, pair.RefreshToken
			},
		},
		{Name: "replay rotated token", Method: http.MethodPost, Path: "/auth/refresh", Body: s.staleBody(), Status: http.StatusUnauthorized, Code: "TOKEN_REVOKED"},
		{Name: "successor revoked", Method: http.MethodPost, Path: "/auth/refresh", Body: s.refreshBody(), Status: http.StatusUnauthorized, Code: "TOKEN_REVOKED"},
	}

	var (
		results []result
		failed  int
	)
	for _, st := range steps {
		res := run(client, base, st)
		if !res.ok() {
			failed++
		}
		results = append(results, res)
		if st.Name == "trigger replay" && eventID == "" {
			res.Error = errors.New("replay returned a different event")
			results[len(results)-1] = res
			failed++
		}
	}

	printReport(results)

	fmt.Printf("Failed steps: %d of %d\n", failed, len(steps))
	if failed > 0 {
		os.Exit(1)
	}
}

func (s *session) bearer() string { return s.access }

// refreshBody and staleBody defer reading the token until the step runs.
func (s *session) refreshBody() func() interface{} {
	return func() interface{} { return map[string]string{"refreshToken": s.refresh} }
}

func (s *session) staleBody() func() interface{} {
	return func() interface{} { return map[string]string{"refreshToken": s.stale} }
}

func run(client *http.Client, base string, st step) result {
	res := result{Step: st}

	body := st.Body
	if lazy, ok := body.(func() interface{}); ok {
		body = lazy()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			res.Error = fmt.Errorf("encode body: %w", err)
			return res
		}
		reader = bytes.NewReader(raw)
	}

	url := strings.TrimRight(base, "/") + st.Path
	req, err := http.NewRequest(st.Method, url, reader)
	if err != nil {
		res.Error = err
		return res
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if st.Bearer != nil {
		req.Header.Set("Authorization", "Bearer "+st.Bearer())
	}
	for k, v := range st.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Error = err
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Error = fmt.Errorf("read body: %w", err)
		return res
	}
	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			res.Error = fmt.Errorf("decode body: %w", err)
			return res
		}
	}
	if env.Error != nil {
		res.Code = env.Error.Code
	}
	if st.OnResult != nil && res.Status == st.Status {
		st.OnResult(env)
	}
	return res
}

func printReport(results []result) {
	fmt.Println("Smoke Report")
	fmt.Println("============")
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if !res.ok() {
			status = "FAIL"
		}
		fmt.Printf("[%s] %s (%s %s, %s)\n", status, res.Step.Name, res.Step.Method, res.Step.Path, res.Duration)
		if res.Error != nil {
			fmt.Printf("  Error: %v\n", res.Error)
			continue
		}
		if !res.ok() {
			fmt.Printf("  Got %d %q, want %d %q\n", res.Status, res.Code, res.Step.Status, res.Step.Code)
		}
	}
}
