package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

type mapFiles map[string][]byte

func (m mapFiles) Get(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, errors.New("reading file: no such file")
	}
	return data, nil
}

var _ = Describe("Fetcher", func() {
	var (
		server      *ghttp.Server
		fetcher     *Fetcher
		locator     string
		data        []byte
		contentType string
		err         error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		fetcher = NewFetcher(mapFiles{"r1_receipt.pdf": []byte("%PDF-1.4")}, nil)
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		data, contentType, err = fetcher.Fetch(context.Background(), locator)
	})

	When("the locator points into storage", func() {
		BeforeEach(func() {
			locator = "storage:r1_receipt.pdf"
		})

		It("should read the stored file", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("%PDF-1.4")))
			Expect(contentType).To(BeEmpty())
		})
	})

	When("the stored file is missing", func() {
		BeforeEach(func() {
			locator = "storage:missing.pdf"
		})

		It("should return a DocumentFetchError", func() {
			var fetchErr *DocumentFetchError
			Expect(errors.As(err, &fetchErr)).To(BeTrue())
			Expect(fetchErr.URL).To(Equal("storage:missing.pdf"))
		})
	})

	When("the locator is an HTTP URL", func() {
		BeforeEach(func() {
			locator = server.URL() + "/files/receipt.jpg"
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/files/receipt.jpg"),
				ghttp.RespondWith(http.StatusOK, "jpeg bytes", http.Header{"Content-Type": []string{"image/jpeg"}}),
			))
		})

		It("should download the document and its content type", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("jpeg bytes"))
			Expect(contentType).To(Equal("image/jpeg"))
		})
	})

	When("the download fails", func() {
		BeforeEach(func() {
			locator = server.URL() + "/files/gone.pdf"
			server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, "gone"))
		})

		It("should report the status", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unexpected status 404"))
		})
	})

	When("the document is too large", func() {
		BeforeEach(func() {
			fetcher.maxBytes = 4
			locator = server.URL() + "/files/big.pdf"
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, strings.Repeat("x", 10)))
		})

		It("should refuse it", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("larger than 4 bytes"))
		})
	})

	When("the scheme is unknown", func() {
		BeforeEach(func() {
			locator = "ftp://example.com/receipt.pdf"
		})

		It("should be rejected", func() {
			Expect(err).To(MatchError(ContainSubstring("unsupported locator")))
		})
	})
})

var _ = Describe("ErrorKind", func() {
	It("classifies wrapped errors", func() {
		wrapped := &ModelInvocationError{Model: "m", Err: &DocumentFetchError{URL: "u", Err: errors.New("x")}}
		Expect(ErrorKind(wrapped)).To(Equal(KindModelInvocation))
		Expect(ErrorKind(errors.Join(errors.New("ctx"), ErrAlreadyClaimed))).To(Equal(KindAlreadyClaimed))
		Expect(ErrorKind(nil)).To(BeEmpty())
		Expect(ErrorKind(errors.New("other"))).To(Equal(KindInternal))
	})
})
