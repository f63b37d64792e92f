package proxy_test

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/proxy"
)

func TestProxy(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Proxy Suite")
}

var _ = Describe("TargetURL", func() {
	DescribeTable("joins base, path and query",
		func(base, path, rawQuery, expected string) {
			Expect(proxy.TargetURL(base, path, rawQuery)).To(Equal(expected))
		},
		Entry("plain join",
			"http://localhost:8081", "/v1/models", "",
			"http://localhost:8081/v1/models"),
		Entry("trailing slash on the base",
			"http://localhost:8081/", "/v1/models", "",
			"http://localhost:8081/v1/models"),
		Entry("multiple trailing slashes",
			"http://localhost:8081///", "/v1/models", "",
			"http://localhost:8081/v1/models"),
		Entry("query appended verbatim",
			"http://localhost:8081", "/v1/models", "version=1&filter=a%20b",
			"http://localhost:8081/v1/models?version=1&filter=a%20b"),
		Entry("root path",
			"http://localhost:8081", "/", "",
			"http://localhost:8081/"),
	)
})

var _ = Describe("Forwarder", func() {
	var forwarder *proxy.Forwarder

	BeforeEach(func() {
		forwarder = proxy.New(nil, nil)
	})

	Context("relaying responses", func() {
		var backend *httptest.Server

		AfterEach(func() {
			if backend != nil {
				backend.Close()
			}
		})

		It("should relay status, headers and body", func() {
			backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Model", "test-model")
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte("created"))
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/models", strings.NewReader("{}"))
			rec := httptest.NewRecorder()

			err := forwarder.Forward(rec, req, backend.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(rec.Header().Get("X-Model")).To(Equal("test-model"))
			Expect(rec.Body.String()).To(Equal("created"))
		})

		It("should forward method, headers and body to the backend", func() {
			var gotMethod, gotAuth, gotBody string

			backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotMethod = r.Method
				gotAuth = r.Header.Get("Authorization")
				body, _ := io.ReadAll(r.Body)
				gotBody = string(body)
			}))

			req := httptest.NewRequest(http.MethodPut, "/v1/models", strings.NewReader(`{"name":"m"}`))
			req.Header.Set("Authorization", "Bearer token")

			err := forwarder.Forward(httptest.NewRecorder(), req, backend.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotMethod).To(Equal(http.MethodPut))
			Expect(gotAuth).To(Equal("Bearer token"))
			Expect(gotBody).To(Equal(`{"name":"m"}`))
		})

		It("should forward the query string byte-for-byte", func() {
			var gotQuery string

			backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.RawQuery
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/models?version=1&filter=a%20b", nil)

			err := forwarder.Forward(httptest.NewRecorder(), req, backend.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotQuery).To(Equal("version=1&filter=a%20b"))
		})

		It("should apply CORS headers over backend values", func() {
			backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Access-Control-Allow-Origin", "http://backend.example")
			}))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)

			err := forwarder.Forward(rec, req, backend.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Header().Values("Access-Control-Allow-Origin")).To(Equal([]string{"*"}))
			Expect(rec.Header().Get("Access-Control-Allow-Methods")).To(ContainSubstring("OPTIONS"))
		})

		It("should surface redirects instead of following them", func() {
			backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/old" {
					http.Redirect(w, r, "/new", http.StatusFound)
					return
				}
				w.Write([]byte("followed"))
			}))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/old", nil)

			err := forwarder.Forward(rec, req, backend.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Code).To(Equal(http.StatusFound))
			Expect(rec.Header().Get("Location")).To(Equal("/new"))
			Expect(rec.Body.String()).NotTo(ContainSubstring("followed"))
		})

		It("should relay a chunked streaming body in full", func() {
			backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				flusher := w.(http.Flusher)
				for i := 0; i < 5; i++ {
					fmt.Fprintf(w, "data: token-%d\n\n", i)
					flusher.Flush()
				}
			}))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/completions", nil)

			err := forwarder.Forward(rec, req, backend.URL)
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 5; i++ {
				Expect(rec.Body.String()).To(ContainSubstring(fmt.Sprintf("data: token-%d", i)))
			}
			Expect(rec.Flushed).To(BeTrue())
		})
	})

	Context("failures", func() {
		It("should return BackendUnavailableError for an unreachable backend", func() {
			dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			dead.Close()

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)

			err := forwarder.Forward(rec, req, dead.URL)
			Expect(err).To(HaveOccurred())

			var unavailable *proxy.BackendUnavailableError
			Expect(errors.As(err, &unavailable)).To(BeTrue())
			Expect(unavailable.Endpoint).To(Equal(dead.URL))
			Expect(unavailable.Unwrap()).NotTo(BeNil())
		})
	})
})

var _ = Describe("ApplyCORS", func() {
	It("should set the permissive header set", func() {
		h := http.Header{}
		proxy.ApplyCORS(h)

		Expect(h.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		Expect(h.Get("Access-Control-Allow-Methods")).To(Equal("GET, POST, PUT, DELETE, OPTIONS"))
		Expect(h.Get("Access-Control-Allow-Headers")).To(Equal("Content-Type, Authorization"))
	})

	It("should replace existing values", func() {
		h := http.Header{}
		h.Set("Access-Control-Allow-Origin", "http://example.com")
		proxy.ApplyCORS(h)

		Expect(h.Values("Access-Control-Allow-Origin")).To(Equal([]string{"*"}))
	})
})
