package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/classcal/internal/httpx"
)

const (
	DefaultBaseURL = "https://jwxk.shu.edu.cn"

	studentInfoPath = "/xsxk/web/studentInfo"
	grabLessonsPath = "/xsxk/elective/shu/grablessons"
	schedulePath    = "/xsxk/elective/shu/xskb"

	codeOK = 200
)

var (
	ErrUpstream     = errors.New("upstream rejected request")
	ErrUnauthorized = errors.New("portal rejected token")
)

// UpstreamError carries the portal's own message for a non-200 envelope.
type UpstreamError struct {
	Endpoint string
	Code     int
	Msg      string
}

func (e *UpstreamError) Error() string {
	if strings.TrimSpace(e.Msg) == "" {
		return fmt.Sprintf("%s: code %d", e.Endpoint, e.Code)
	}
	return e.Msg
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstream
}

type Batch struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	SchoolTerm string `json:"schoolTerm"`
	WeekRange  string `json:"weekRange,omitempty"`
}

type StudentInfo struct {
	Name    string  `json:"name"`
	Batches []Batch `json:"batches"`
}

// RawCourse is a selected course as the portal reports it. Place is the
// week/day/section text that still needs parsing into course infos.
type RawCourse struct {
	Name        string `json:"KCM"`
	Teacher     string `json:"SKJS"`
	Place       string `json:"teachingPlace"`
	PlaceHidden string `json:"teachingPlaceHide"`
}

type envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type studentInfoData struct {
	Student struct {
		Name    string  `json:"XM"`
		Batches []Batch `json:"electiveBatchList"`
	} `json:"student"`
}

type scheduleData struct {
	Selected []RawCourse `json:"yxkc"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *Client) StudentInfo(ctx context.Context, token string) (StudentInfo, error) {
	body := httpx.EncodeForm(url.Values{"token": {token}})
	response, err := httpx.DoJSON[envelope[studentInfoData]](
		ctx,
		c.client,
		http.MethodPost,
		c.baseURL+studentInfoPath,
		authHeaders(token),
		body,
	)
	if err != nil {
		return StudentInfo{}, classify("student info", err)
	}
	if response.Code != codeOK {
		return StudentInfo{}, &UpstreamError{Endpoint: studentInfoPath, Code: response.Code, Msg: response.Msg}
	}

	return StudentInfo{
		Name:    strings.TrimSpace(response.Data.Student.Name),
		Batches: SortBatches(response.Data.Student.Batches),
	}, nil
}

// Courses selects the batch server-side and then reads the selected courses.
func (c *Client) Courses(ctx context.Context, token, batchCode string) ([]RawCourse, error) {
	if strings.TrimSpace(batchCode) == "" {
		return nil, fmt.Errorf("batch code is required")
	}

	selectURL := c.baseURL + grabLessonsPath + "?" + url.Values{"batchId": {batchCode}}.Encode()
	headers := map[string]string{"Cookie": "Authorization=" + token}
	if _, err := httpx.Do(ctx, c.client, http.MethodGet, selectURL, headers, nil); err != nil {
		return nil, classify("select batch "+batchCode, err)
	}

	response, err := httpx.DoJSON[envelope[scheduleData]](
		ctx,
		c.client,
		http.MethodPost,
		c.baseURL+schedulePath,
		authHeaders(token),
		nil,
	)
	if err != nil {
		return nil, classify("selected courses", err)
	}
	if response.Code != codeOK {
		return nil, &UpstreamError{Endpoint: schedulePath, Code: response.Code, Msg: response.Msg}
	}

	courses := make([]RawCourse, 0, len(response.Data.Selected))
	for _, course := range response.Data.Selected {
		course.Name = strings.TrimSpace(course.Name)
		course.Teacher = strings.TrimSpace(course.Teacher)
		courses = append(courses, course)
	}
	return courses, nil
}

func TermName(batches []Batch, code string) (string, error) {
	for _, batch := range batches {
		if batch.Code == code {
			return batch.Name, nil
		}
	}
	return "", fmt.Errorf("batch %q not found", code)
}

// SortBatches orders batches newest school term first and keeps the first
// batch seen for each term.
func SortBatches(batches []Batch) []Batch {
	sorted := make([]Batch, len(batches))
	copy(sorted, batches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return termRank(sorted[i].SchoolTerm) > termRank(sorted[j].SchoolTerm)
	})

	seen := make(map[string]struct{}, len(sorted))
	out := make([]Batch, 0, len(sorted))
	for _, batch := range sorted {
		if _, ok := seen[batch.SchoolTerm]; ok {
			continue
		}
		seen[batch.SchoolTerm] = struct{}{}
		out = append(out, batch)
	}
	return out
}

// termRank turns "2024-2025-2" into 20242. Unparseable terms sort last.
func termRank(schoolTerm string) int {
	parts := strings.Split(strings.TrimSpace(schoolTerm), "-")
	if len(parts) != 3 {
		return -1
	}
	startYear, err := strconv.Atoi(parts[0])
	if err != nil {
		return -1
	}
	semester, err := strconv.Atoi(parts[2])
	if err != nil {
		return -1
	}
	return startYear*10 + semester
}

// classify tags transport failures so callers can tell an expired token
// from a portal outage.
func classify(op string, err error) error {
	switch {
	case httpx.IsStatus(err, http.StatusUnauthorized), httpx.IsStatus(err, http.StatusForbidden):
		return fmt.Errorf("%s: %w: %w", op, ErrUnauthorized, err)
	case httpx.Is5xx(err):
		return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func authHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": token,
		"Accept":        "application/json",
		"Content-Type":  httpx.ContentTypeForm,
	}
}
