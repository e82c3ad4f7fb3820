package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-tracker/internal/pipeline"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		queue       *mockQueue
		runner      *mockRunner
		auth        BasicAuth
		metrics     http.Handler
		server      *Server
		ghttpServer *ghttp.Server
	)

	// do sends one request through the server
	do := func(req *http.Request) *http.Response {
		ghttpServer.AppendHandlers(server.Handler().ServeHTTP)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	newRequest := func(method, path string, body io.Reader) *http.Request {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		return req
	}

	readBody := func(resp *http.Response) string {
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return string(body)
	}

	uploadRequest := func(field, filename string, data []byte) *http.Request {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		part, err := writer.CreateFormFile(field, filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req := newRequest(http.MethodPost, "/api/receipts", &b)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		queue = &mockQueue{}
		runner = &mockRunner{result: pipeline.Result{Success: true, State: pipeline.StateDone, OwnerID: "local"}}
		auth = BasicAuth{}
		metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		})
		ghttpServer = ghttp.NewServer()
	})

	JustBeforeEach(func() {
		service := NewService(db, storage, queue, runner)
		server = NewServerWithMux(service, auth, metrics, http.NewServeMux())
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("health and metrics", func() {
		It("should answer the health check", func() {
			resp := do(newRequest(http.MethodGet, "/healthz", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(Equal("ok"))
		})

		It("should serve metrics", func() {
			resp := do(newRequest(http.MethodGet, "/metrics", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(ContainSubstring("# metrics"))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "jane", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp := do(newRequest(http.MethodGet, "/api/receipts", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should reject wrong credentials", func() {
			req := newRequest(http.MethodGet, "/api/receipts", nil)
			req.SetBasicAuth("jane", "wrong")
			Expect(do(req).StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			req := newRequest(http.MethodGet, "/api/receipts", nil)
			req.SetBasicAuth("jane", "secret")
			Expect(do(req).StatusCode).To(Equal(http.StatusOK))
		})

		It("should record the user as owner of uploads", func() {
			req := uploadRequest("file", "receipt.pdf", []byte("%PDF-1.4"))
			req.SetBasicAuth("jane", "secret")
			Expect(do(req).StatusCode).To(Equal(http.StatusAccepted))
			for _, r := range db.receipts {
				Expect(r.OwnerID).To(Equal("jane"))
			}
		})

		It("should leave the health check open", func() {
			Expect(do(newRequest(http.MethodGet, "/healthz", nil)).StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do(newRequest(http.MethodOptions, "/api/receipts", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("handleListReceipts", func() {
		When("receipts exist", func() {
			BeforeEach(func() {
				db.receipts["id1"] = &Receipt{ID: "id1", Status: StatusPending}
				db.receipts["id2"] = &Receipt{ID: "id2", Status: StatusProcessed}
			})

			It("should return all receipts as JSON", func() {
				resp := do(newRequest(http.MethodGet, "/api/receipts", nil))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var receipts []*Receipt
				Expect(json.Unmarshal([]byte(readBody(resp)), &receipts)).To(Succeed())
				Expect(receipts).To(HaveLen(2))
			})
		})

		When("no receipts exist", func() {
			It("should return an empty array", func() {
				resp := do(newRequest(http.MethodGet, "/api/receipts", nil))
				Expect(readBody(resp)).To(MatchJSON(`[]`))
			})
		})

		When("service returns an error", func() {
			BeforeEach(func() {
				db.listErr = errors.New("service error")
			})

			It("should return status Internal Server Error", func() {
				resp := do(newRequest(http.MethodGet, "/api/receipts", nil))
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(readBody(resp)).To(ContainSubstring("Internal server error"))
			})
		})
	})

	Describe("handleUploadReceipt", func() {
		When("upload succeeds", func() {
			It("should accept the upload and return the pending receipt", func() {
				resp := do(uploadRequest("file", "receipt.pdf", []byte("%PDF-1.4")))
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

				var receipt Receipt
				Expect(json.Unmarshal([]byte(readBody(resp)), &receipt)).To(Succeed())
				Expect(receipt.ID).NotTo(BeEmpty())
				Expect(receipt.Status).To(Equal(StatusPending))
				Expect(receipt.OwnerID).To(Equal("local"))
				Expect(receipt.ContentType).To(Equal("application/octet-stream"))
			})

			It("should schedule extraction", func() {
				do(uploadRequest("file", "receipt.pdf", []byte("%PDF-1.4")))
				Expect(queue.events).To(HaveLen(1))
				Expect(queue.events[0].URL).To(HavePrefix("storage:"))
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				resp := do(uploadRequest("other", "receipt.pdf", []byte("%PDF-1.4")))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("No file was selected"))
			})
		})

		When("the body is not multipart", func() {
			It("should return status Bad Request", func() {
				req := newRequest(http.MethodPost, "/api/receipts", bytes.NewBufferString("{}"))
				req.Header.Set("Content-Type", "application/json")
				Expect(do(req).StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the service fails", func() {
			BeforeEach(func() {
				storage.saveErr = errors.New("disk full")
			})

			It("should return the error", func() {
				resp := do(uploadRequest("file", "receipt.pdf", []byte("%PDF-1.4")))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("disk full"))
			})
		})
	})

	Describe("handleGetReceipt", func() {
		BeforeEach(func() {
			db.receipts["id1"] = &Receipt{ID: "id1", DisplayName: "receipt.pdf"}
		})

		It("should return the receipt", func() {
			resp := do(newRequest(http.MethodGet, "/api/receipts/id1", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(ContainSubstring(`"display_name":"receipt.pdf"`))
		})

		It("should return 404 for unknown receipts", func() {
			resp := do(newRequest(http.MethodGet, "/api/receipts/missing", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleGetReceiptFile", func() {
		BeforeEach(func() {
			db.receipts["id1"] = &Receipt{ID: "id1", Filename: "id1_receipt.jpg", ContentType: "image/jpeg"}
			storage.files["id1_receipt.jpg"] = []byte("jpeg data")
		})

		It("should return the file with its content type", func() {
			resp := do(newRequest(http.MethodGet, "/api/receipts/id1/file", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
			Expect(readBody(resp)).To(Equal("jpeg data"))
		})

		It("should return 404 when the file is missing", func() {
			delete(storage.files, "id1_receipt.jpg")
			resp := do(newRequest(http.MethodGet, "/api/receipts/id1/file", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleDeleteReceipt", func() {
		BeforeEach(func() {
			db.receipts["id1"] = &Receipt{ID: "id1", Filename: "id1_receipt.jpg"}
			storage.files["id1_receipt.jpg"] = []byte("jpeg data")
		})

		It("should delete the receipt", func() {
			resp := do(newRequest(http.MethodDelete, "/api/receipts/id1", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).NotTo(HaveKey("id1"))
		})

		It("should return 404 for unknown receipts", func() {
			resp := do(newRequest(http.MethodDelete, "/api/receipts/missing", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return 500 when the database fails", func() {
			db.deleteErr = errors.New("db error")
			resp := do(newRequest(http.MethodDelete, "/api/receipts/id1", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("handleExtractReceipt", func() {
		BeforeEach(func() {
			db.receipts["id1"] = &Receipt{ID: "id1", Filename: "id1_receipt.pdf"}
		})

		When("extraction succeeds", func() {
			It("should return the result", func() {
				resp := do(newRequest(http.MethodPost, "/api/receipts/id1/extract", nil))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(readBody(resp)).To(MatchJSON(`{"success":true,"receiptId":"id1","ownerId":"local","state":"done"}`))
				Expect(runner.events).To(ConsistOf(pipeline.Event{URL: "storage:id1_receipt.pdf", ReceiptID: "id1"}))
			})
		})

		When("extraction finds nothing usable", func() {
			BeforeEach(func() {
				runner.result = pipeline.Result{
					State:    pipeline.StateFailed,
					FailedAt: pipeline.StateCoercing,
					Error:    "no usable receipt data extracted",
					Kind:     pipeline.KindNoUsableData,
				}
			})

			It("should return 422 with the failure", func() {
				resp := do(newRequest(http.MethodPost, "/api/receipts/id1/extract", nil))
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				body := readBody(resp)
				Expect(body).To(ContainSubstring(`"success":false`))
				Expect(body).To(ContainSubstring(`"kind":"no_usable_data"`))
				Expect(body).NotTo(ContainSubstring("ownerId"))
			})
		})

		When("another run holds the receipt", func() {
			BeforeEach(func() {
				runner.result = pipeline.Result{State: pipeline.StateFailed, Kind: pipeline.KindAlreadyClaimed, Error: "receipt is already being processed"}
			})

			It("should return 409", func() {
				resp := do(newRequest(http.MethodPost, "/api/receipts/id1/extract", nil))
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			})
		})

		When("the receipt does not exist", func() {
			It("should return 404 without running", func() {
				resp := do(newRequest(http.MethodPost, "/api/receipts/missing/extract", nil))
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(runner.events).To(BeEmpty())
			})
		})
	})
})

var _ = Describe("resultStatus", func() {
	DescribeTable("mapping run outcomes",
		func(res pipeline.Result, expected int) {
			Expect(resultStatus(res)).To(Equal(expected))
		},
		Entry("success", pipeline.Result{Success: true}, http.StatusOK),
		Entry("not found", pipeline.Result{Kind: pipeline.KindReceiptNotFound}, http.StatusNotFound),
		Entry("claimed", pipeline.Result{Kind: pipeline.KindAlreadyClaimed}, http.StatusConflict),
		Entry("model failure", pipeline.Result{Kind: pipeline.KindModelInvocation}, http.StatusBadGateway),
		Entry("parse failure", pipeline.Result{Kind: pipeline.KindOutputParse}, http.StatusUnprocessableEntity),
		Entry("validation failure", pipeline.Result{Kind: pipeline.KindValidation}, http.StatusUnprocessableEntity),
		Entry("commit failure", pipeline.Result{Kind: pipeline.KindCommit}, http.StatusInternalServerError),
	)
})

var _ = Describe("detectContentType", func() {
	DescribeTable("choosing a content type",
		func(header, filename, expected string) {
			Expect(detectContentType(header, filename)).To(Equal(expected))
		},
		Entry("declared type wins", "Image/PNG", "scan.pdf", "image/png"),
		Entry("pdf extension", "", "scan.PDF", "application/pdf"),
		Entry("heic extension", "", "IMG_0001.heic", "image/heic"),
		Entry("unknown extension", "", "notes.txt", "application/octet-stream"),
	)
})
