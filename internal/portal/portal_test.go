package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rbright/classcal/internal/httpx"
)

func TestSortBatches_NewestFirstDeduplicated(t *testing.T) {
	t.Parallel()

	batches := []Batch{
		{Code: "a", Name: "autumn retake", SchoolTerm: "2024-2025-1"},
		{Code: "b", Name: "winter", SchoolTerm: "2024-2025-2"},
		{Code: "c", Name: "spring", SchoolTerm: "2024-2025-3"},
		{Code: "d", Name: "autumn", SchoolTerm: "2024-2025-1"},
		{Code: "e", Name: "old", SchoolTerm: "2023-2024-3"},
		{Code: "f", Name: "garbage", SchoolTerm: "unknown"},
	}

	got := SortBatches(batches)
	want := []string{"c", "b", "a", "e", "f"}
	if len(got) != len(want) {
		t.Fatalf("expected %d batches, got %d: %+v", len(want), len(got), got)
	}
	for i, code := range want {
		if got[i].Code != code {
			t.Fatalf("position %d: expected %s, got %s", i, code, got[i].Code)
		}
	}
	if batches[0].Code != "a" || batches[1].Code != "b" {
		t.Fatalf("input slice was reordered")
	}
}

func TestTermName(t *testing.T) {
	t.Parallel()

	batches := []Batch{{Code: "x1", Name: "2024-2025学年冬季学期"}}
	name, err := TermName(batches, "x1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "2024-2025学年冬季学期" {
		t.Fatalf("unexpected name %q", name)
	}

	if _, err := TermName(batches, "missing"); err == nil {
		t.Fatalf("expected error for unknown batch")
	}
}

func TestStudentInfo(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studentInfoPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "tok" {
			t.Errorf("missing authorization header")
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("token") != "tok" {
			t.Errorf("missing token form value")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"code":200,"msg":"ok","data":{"student":{"XM":" 张三 ","electiveBatchList":[
{"code":"old","name":"2023-2024学年春季学期","schoolTerm":"2023-2024-3"},
{"code":"new","name":"2024-2025学年冬季学期","schoolTerm":"2024-2025-2","weekRange":"1-10周"}]}}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	info, err := client.StudentInfo(context.Background(), "tok")
	if err != nil {
		t.Fatalf("student info: %v", err)
	}
	if info.Name != "张三" {
		t.Fatalf("unexpected name %q", info.Name)
	}
	if len(info.Batches) != 2 || info.Batches[0].Code != "new" || info.Batches[0].WeekRange != "1-10周" {
		t.Fatalf("unexpected batches: %+v", info.Batches)
	}
}

func TestStudentInfo_UpstreamMessageVerbatim(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"code":401,"msg":"登录已过期"}`)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Second).StudentInfo(context.Background(), "tok")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %T", err)
	}
	if upstream.Code != 401 || err.Error() != "登录已过期" {
		t.Fatalf("unexpected upstream error: %+v / %q", upstream, err.Error())
	}
}

func TestCourses_SelectsBatchThenReadsSchedule(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		selected string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case grabLessonsPath:
			cookie, err := r.Cookie("Authorization")
			if err != nil || cookie.Value != "tok" {
				http.Error(w, "no cookie", http.StatusUnauthorized)
				return
			}
			mu.Lock()
			selected = r.URL.Query().Get("batchId")
			mu.Unlock()
			_, _ = fmt.Fprint(w, "<html></html>")
		case schedulePath:
			mu.Lock()
			batch := selected
			mu.Unlock()
			if batch != "b1" {
				_, _ = fmt.Fprint(w, `{"code":500,"msg":"no batch"}`)
				return
			}
			_, _ = fmt.Fprint(w, `{"code":200,"data":{"yxkc":[
{"KCM":" 高等数学 ","SKJS":"李四","teachingPlace":"一1-2 1-10周","teachingPlaceHide":"A101"}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	courses, err := NewClient(server.URL, time.Second).Courses(context.Background(), "tok", "b1")
	if err != nil {
		t.Fatalf("courses: %v", err)
	}
	if len(courses) != 1 {
		t.Fatalf("expected one course, got %d", len(courses))
	}
	course := courses[0]
	if course.Name != "高等数学" || course.Teacher != "李四" || course.PlaceHidden != "A101" || course.Place != "一1-2 1-10周" {
		t.Fatalf("unexpected course: %+v", course)
	}
}

func TestCourses_RequiresBatch(t *testing.T) {
	t.Parallel()

	if _, err := NewClient("http://127.0.0.1:1", time.Second).Courses(context.Background(), "tok", " "); err == nil {
		t.Fatalf("expected error for empty batch code")
	}
}

func TestStudentInfo_ClassifiesHTTPFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		want     error
		notWant  error
		wantCode int
	}{
		{name: "expired token", status: http.StatusUnauthorized, want: ErrUnauthorized, notWant: ErrUpstream, wantCode: 401},
		{name: "forbidden", status: http.StatusForbidden, want: ErrUnauthorized, notWant: ErrUpstream, wantCode: 403},
		{name: "outage", status: http.StatusBadGateway, want: ErrUpstream, notWant: ErrUnauthorized, wantCode: 502},
		{name: "not found", status: http.StatusNotFound, notWant: ErrUnauthorized, wantCode: 404},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer server.Close()

			_, err := NewClient(server.URL, time.Second).StudentInfo(context.Background(), "tok")
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if errors.Is(err, tc.notWant) {
				t.Fatalf("unexpected classification: %v", err)
			}
			if !httpx.IsStatus(err, tc.wantCode) {
				t.Fatalf("status %d lost from %v", tc.wantCode, err)
			}
		})
	}
}
