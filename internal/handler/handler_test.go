package handler_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/dispatch"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/endpoint"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/handler"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/proxy"
	"github.com/aphrodite-engine/aphrodite-loadbalancer/internal/selection"
)

func TestHandler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Handler Suite")
}

// countingBackend records how many requests it served per path.
type countingBackend struct {
	server *httptest.Server

	mutex  sync.Mutex
	byPath map[string]int
}

func newCountingBackend(name string) *countingBackend {
	b := &countingBackend{byPath: map[string]int{}}

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mutex.Lock()
		b.byPath[r.URL.Path]++
		b.mutex.Unlock()
		w.Write([]byte(name))
	}))

	return b
}

func (b *countingBackend) count(path string) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.byPath[path]
}

func (b *countingBackend) total() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	n := 0
	for _, c := range b.byPath {
		n += c
	}
	return n
}

var _ = Describe("LoadBalancerHandler", func() {
	var (
		log      *slog.Logger
		backends []*countingBackend
		reg      *endpoint.Registry
		sel      *selection.Selector
		lb       *handler.LoadBalancerHandler
	)

	newHandler := func(specs []endpoint.Spec) {
		var err error
		reg, err = endpoint.NewRegistry(specs)
		Expect(err).NotTo(HaveOccurred())

		sel = selection.New(reg.Weights())
		lb = handler.NewLoadBalancerHandler(log, dispatch.New(reg, sel), reg, proxy.New(nil, log), nil)
	}

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, nil))

		backends = []*countingBackend{
			newCountingBackend("ep1"),
			newCountingBackend("ep2"),
		}
		newHandler([]endpoint.Spec{
			{URL: backends[0].server.URL, Weight: 1},
			{URL: backends[1].server.URL, Weight: 1},
		})
	})

	AfterEach(func() {
		for _, b := range backends {
			b.server.Close()
		}
	})

	send := func(method, target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		lb.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
		return rec
	}

	Context("round-robin distribution", func() {
		It("should split four general requests evenly", func() {
			for i := 0; i < 4; i++ {
				rec := send(http.MethodGet, "/v1/models")
				Expect(rec.Code).To(Equal(http.StatusOK))
			}

			Expect(backends[0].count("/v1/models")).To(Equal(2))
			Expect(backends[1].count("/v1/models")).To(Equal(2))
		})

		It("should route completion and general traffic on independent cursors", func() {
			for i := 0; i < 2; i++ {
				send(http.MethodPost, "/v1/completions")
			}
			for i := 0; i < 2; i++ {
				send(http.MethodGet, "/v1/models")
			}

			for _, b := range backends {
				Expect(b.count("/v1/completions")).To(Equal(1))
				Expect(b.count("/v1/models")).To(Equal(1))
			}
		})
	})

	Context("OPTIONS preflight", func() {
		It("should answer with CORS headers and contact no backend", func() {
			rec := send(http.MethodOptions, "/v1/models")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(rec.Body.Len()).To(BeZero())
			Expect(backends[0].total()).To(BeZero())
			Expect(backends[1].total()).To(BeZero())
		})
	})

	Context("unhealthy endpoints", func() {
		It("should route nothing to an endpoint removed from rotation", func() {
			reg.At(0).SetHealthy(false)
			sel.Rebuild(reg.HealthSnapshot())

			for i := 0; i < 6; i++ {
				rec := send(http.MethodGet, "/v1/models")
				Expect(rec.Code).To(Equal(http.StatusOK))
			}

			Expect(backends[0].total()).To(BeZero())
			Expect(backends[1].count("/v1/models")).To(Equal(6))
		})

		It("should keep routing when every endpoint is unhealthy", func() {
			reg.At(0).SetHealthy(false)
			reg.At(1).SetHealthy(false)
			sel.Rebuild(reg.HealthSnapshot())

			for i := 0; i < 4; i++ {
				rec := send(http.MethodGet, "/v1/models")
				Expect(rec.Code).To(Equal(http.StatusOK))
			}

			Expect(backends[0].total() + backends[1].total()).To(Equal(4))
		})
	})

	Context("pinned paths", func() {
		BeforeEach(func() {
			newHandler([]endpoint.Spec{
				{URL: backends[0].server.URL, Weight: 1},
				{URL: backends[1].server.URL, Weight: 1, Paths: []string{"/v1/embeddings"}},
			})
		})

		It("should send pinned traffic to the pinned endpoint regardless of cursor state", func() {
			send(http.MethodGet, "/v1/models")
			for i := 0; i < 5; i++ {
				send(http.MethodPost, "/v1/embeddings")
			}

			Expect(backends[1].count("/v1/embeddings")).To(Equal(5))
			Expect(backends[0].count("/v1/embeddings")).To(BeZero())
		})

		It("should fall back to rotation while the pinned endpoint is down", func() {
			reg.At(1).SetHealthy(false)
			sel.Rebuild(reg.HealthSnapshot())

			for i := 0; i < 3; i++ {
				send(http.MethodPost, "/v1/embeddings")
			}

			Expect(backends[0].count("/v1/embeddings")).To(Equal(3))
			Expect(backends[1].count("/v1/embeddings")).To(BeZero())
		})
	})

	Context("failures", func() {
		It("should answer 502 with CORS headers for an unreachable endpoint", func() {
			dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			dead.Close()

			newHandler([]endpoint.Spec{{URL: dead.URL, Weight: 1}})

			rec := send(http.MethodGet, "/v1/models")
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should keep dispatching after a forwarding failure", func() {
			dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			dead.Close()

			newHandler([]endpoint.Spec{
				{URL: dead.URL, Weight: 1},
				{URL: backends[0].server.URL, Weight: 1},
			})

			var failures, successes int
			for i := 0; i < 6; i++ {
				rec := send(http.MethodGet, "/v1/models")
				switch rec.Code {
				case http.StatusBadGateway:
					failures++
				case http.StatusOK:
					successes++
				}
			}

			// One full weighted cycle alternates between the two, so
			// failures never bleed into the healthy endpoint's share.
			Expect(failures).To(Equal(3))
			Expect(successes).To(Equal(3))
			Expect(backends[0].count("/v1/models")).To(Equal(3))
		})
	})

	Context("query forwarding", func() {
		It("should pass the query string through to the backend", func() {
			var gotQuery string
			q := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.RawQuery
			}))
			defer q.Close()

			newHandler([]endpoint.Spec{{URL: q.URL, Weight: 1}})

			send(http.MethodGet, "/v1/models?version=1&limit=5")
			Expect(gotQuery).To(Equal("version=1&limit=5"))
		})
	})
})
