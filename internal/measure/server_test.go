package measure

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = ginkgo.Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(db, extractor, storage,
			&mockIDGenerator{id: "test-uuid-123"},
			&mockTimeSource{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		// some specs make more than one request
		ghttpServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)
	}

	uploadBody := func(overrides map[string]any) *bytes.Buffer {
		body := map[string]any{
			"image":            "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("fake image data")),
			"customer_code":    "customer-1",
			"measure_datetime": "2024-03-15T10:00:00Z",
			"measure_type":     "WATER",
		}
		for k, v := range overrides {
			body[k] = v
		}
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		return bytes.NewBuffer(data)
	}

	doJSON := func(method, path string, body io.Reader) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeError := func(resp *http.Response) errorResponse {
		defer resp.Body.Close()
		var envelope errorResponse
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, &envelope)).NotTo(HaveOccurred())
		return envelope
	}

	ginkgo.BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = newMockExtractor()
		auth = BasicAuth{}
		setupServer()
	})

	ginkgo.AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	ginkgo.Describe("handleUpload", func() {
		ginkgo.When("the submission is well-formed", func() {
			ginkgo.It("should return status OK", func() {
				resp := doJSON("POST", "/upload", uploadBody(nil))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})

			ginkgo.It("should return image url, value and uuid", func() {
				resp := doJSON("POST", "/upload", uploadBody(nil))
				defer resp.Body.Close()
				var result UploadResult
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &result)).NotTo(HaveOccurred())
				Expect(result.MeasureUUID).To(Equal("test-uuid-123"))
				Expect(result.MeasureValue).To(Equal(12345))
				Expect(result.ImageURL).To(Equal("/measures/test-uuid-123/image"))
			})
		})

		ginkgo.When("the body is not valid JSON", func() {
			ginkgo.It("should return INVALID_DATA", func() {
				resp := doJSON("POST", "/upload", bytes.NewBufferString("not json"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).ErrorCode).To(Equal(CodeInvalidData))
			})
		})

		ginkgo.When("the image lacks the data URL prefix", func() {
			ginkgo.It("should return INVALID_DATA before touching the store", func() {
				resp := doJSON("POST", "/upload", uploadBody(map[string]any{"image": "plainbase64=="}))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).ErrorCode).To(Equal(CodeInvalidData))
				Expect(db.measures).To(BeEmpty())
				Expect(storage.files).To(BeEmpty())
			})
		})

		ginkgo.When("a reading already exists for the month", func() {
			ginkgo.BeforeEach(func() {
				db.measures["existing"] = &Measure{
					ID:              "existing",
					CustomerCode:    "customer-1",
					MeasureDatetime: time.Date(2024, 3, 28, 9, 0, 0, 0, time.UTC),
					MeasureType:     Water,
				}
			})

			ginkgo.It("should return DOUBLE_REPORT", func() {
				resp := doJSON("POST", "/upload", uploadBody(nil))
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				Expect(decodeError(resp).ErrorCode).To(Equal(CodeDoubleReport))
			})
		})

		ginkgo.When("the collaborator response has no readable value", func() {
			ginkgo.BeforeEach(func() {
				extractor.response = "no digits here"
			})

			ginkgo.It("should return MEASURE_NOT_FOUND", func() {
				resp := doJSON("POST", "/upload", uploadBody(nil))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).ErrorCode).To(Equal(CodeMeasureNotFound))
			})
		})

		ginkgo.When("the store fails", func() {
			ginkgo.BeforeEach(func() {
				db.existsErr = errors.New("database error")
			})

			ginkgo.It("should return INTERNAL_ERROR with the standard envelope", func() {
				resp := doJSON("POST", "/upload", uploadBody(nil))
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				envelope := decodeError(resp)
				Expect(envelope.ErrorCode).To(Equal(CodeInternalError))
				Expect(envelope.ErrorDescription).NotTo(BeEmpty())
			})
		})
	})

	ginkgo.Describe("handleConfirm", func() {
		ginkgo.BeforeEach(func() {
			db.measures["test-uuid-123"] = &Measure{
				ID:           "test-uuid-123",
				CustomerCode: "customer-1",
				MeasureType:  Water,
				MeasureValue: 12345,
			}
		})

		confirmBody := func(body string) *bytes.Buffer {
			return bytes.NewBufferString(body)
		}

		ginkgo.When("the confirmation is well-formed", func() {
			ginkgo.It("should return success", func() {
				resp := doJSON("PATCH", "/confirm", confirmBody(`{"measure_uuid": "test-uuid-123", "confirmed_value": 12400}`))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var result map[string]bool
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &result)).NotTo(HaveOccurred())
				Expect(result["success"]).To(BeTrue())
			})

			ginkgo.It("should store the confirmed value", func() {
				resp := doJSON("PATCH", "/confirm", confirmBody(`{"measure_uuid": "test-uuid-123", "confirmed_value": 12400}`))
				resp.Body.Close()
				Expect(*db.measures["test-uuid-123"].ConfirmedValue).To(Equal(12400))
			})
		})

		ginkgo.When("confirming twice", func() {
			ginkgo.It("should reject the second attempt and keep the first value", func() {
				first := doJSON("PATCH", "/confirm", confirmBody(`{"measure_uuid": "test-uuid-123", "confirmed_value": 12400}`))
				first.Body.Close()
				Expect(first.StatusCode).To(Equal(http.StatusOK))

				second := doJSON("PATCH", "/confirm", confirmBody(`{"measure_uuid": "test-uuid-123", "confirmed_value": 12400}`))
				Expect(second.StatusCode).To(Equal(http.StatusConflict))
				Expect(decodeError(second).ErrorCode).To(Equal(CodeConfirmationDuplicate))
				Expect(*db.measures["test-uuid-123"].ConfirmedValue).To(Equal(12400))
			})
		})

		ginkgo.When("the measure does not exist", func() {
			ginkgo.It("should return MEASURE_NOT_FOUND", func() {
				resp := doJSON("PATCH", "/confirm", confirmBody(`{"measure_uuid": "nonexistent", "confirmed_value": 12400}`))
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(decodeError(resp).ErrorCode).To(Equal(CodeMeasureNotFound))
			})
		})

		ginkgo.When("the uuid is not a string", func() {
			ginkgo.It("should return INVALID_DATA", func() {
				resp := doJSON("PATCH", "/confirm", confirmBody(`{"measure_uuid": 42, "confirmed_value": 12400}`))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).ErrorCode).To(Equal(CodeInvalidData))
			})
		})

		ginkgo.When("the confirmed value is not a number", func() {
			ginkgo.It("should return INVALID_DATA", func() {
				resp := doJSON("PATCH", "/confirm", confirmBody(`{"measure_uuid": "test-uuid-123", "confirmed_value": "12400"}`))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).ErrorCode).To(Equal(CodeInvalidData))
			})
		})

		ginkgo.When("the confirmed value has a fractional part", func() {
			ginkgo.It("should return INVALID_DATA", func() {
				resp := doJSON("PATCH", "/confirm", confirmBody(`{"measure_uuid": "test-uuid-123", "confirmed_value": 12.5}`))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).ErrorCode).To(Equal(CodeInvalidData))
			})
		})
	})

	ginkgo.Describe("handleList", func() {
		ginkgo.BeforeEach(func() {
			confirmed := 200
			db.measures["id1"] = &Measure{
				ID:              "id1",
				CustomerCode:    "customer-1",
				MeasureDatetime: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
				MeasureType:     Water,
				ConfirmedValue:  &confirmed,
				ImageURL:        "/measures/id1/image",
			}
			db.measures["id2"] = &Measure{
				ID:              "id2",
				CustomerCode:    "customer-1",
				MeasureDatetime: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
				MeasureType:     Gas,
				ImageURL:        "/measures/id2/image",
			}
		})

		ginkgo.When("the customer has readings", func() {
			ginkgo.It("should return status OK", func() {
				resp, err := http.Get(ghttpServer.URL() + "/customer-1/list")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})

			ginkgo.It("should return the customer code and projected measures", func() {
				resp, err := http.Get(ghttpServer.URL() + "/customer-1/list")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				var result listResponse
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &result)).NotTo(HaveOccurred())
				Expect(result.CustomerCode).To(Equal("customer-1"))
				Expect(result.Measures).To(HaveLen(2))
				Expect(result.Measures[0].HasConfirmed).To(BeTrue())
				Expect(result.Measures[1].HasConfirmed).To(BeFalse())
			})

			ginkgo.It("should never expose the raw confirmed value", func() {
				resp, err := http.Get(ghttpServer.URL() + "/customer-1/list")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).NotTo(ContainSubstring("confirmed_value"))
			})
		})

		ginkgo.When("a lower-case type filter is given", func() {
			ginkgo.It("should apply the filter case-insensitively", func() {
				resp, err := http.Get(ghttpServer.URL() + "/customer-1/list?measure_type=gas")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var result listResponse
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &result)).NotTo(HaveOccurred())
				Expect(result.Measures).To(HaveLen(1))
				Expect(result.Measures[0].MeasureType).To(Equal(Gas))
			})
		})

		ginkgo.When("the type filter is unknown", func() {
			ginkgo.It("should return INVALID_TYPE", func() {
				resp, err := http.Get(ghttpServer.URL() + "/customer-1/list?measure_type=ELECTRICITY")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).ErrorCode).To(Equal(CodeInvalidType))
			})
		})

		ginkgo.When("the customer has no readings", func() {
			ginkgo.It("should return MEASURES_NOT_FOUND", func() {
				resp, err := http.Get(ghttpServer.URL() + "/customer-9/list")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(decodeError(resp).ErrorCode).To(Equal(CodeMeasuresNotFound))
			})
		})
	})

	ginkgo.Describe("handleGetMeasureImage", func() {
		ginkgo.BeforeEach(func() {
			db.measures["test-uuid-123"] = &Measure{
				ID:          "test-uuid-123",
				Filename:    "test-uuid-123.png",
				ContentType: "image/png",
			}
			storage.files["test-uuid-123.png"] = []byte("photo bytes")
		})

		ginkgo.When("the photo exists", func() {
			ginkgo.It("should return the photo with its content type", func() {
				resp, err := http.Get(ghttpServer.URL() + "/measures/test-uuid-123/image")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal("photo bytes"))
			})
		})

		ginkgo.When("the measure does not exist", func() {
			ginkgo.It("should return MEASURE_NOT_FOUND", func() {
				resp, err := http.Get(ghttpServer.URL() + "/measures/nonexistent/image")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(decodeError(resp).ErrorCode).To(Equal(CodeMeasureNotFound))
			})
		})
	})

	ginkgo.Describe("authenticate", func() {
		ginkgo.When("no auth is configured", func() {
			ginkgo.It("should allow the request", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(server.authenticate(req)).To(BeTrue())
			})
		})

		ginkgo.When("valid credentials are provided", func() {
			ginkgo.BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
				setupServer()
			})

			ginkgo.It("should allow the request", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/", nil)
				Expect(err).NotTo(HaveOccurred())
				credentials := base64.StdEncoding.EncodeToString([]byte("user:pass"))
				req.Header.Set("Authorization", "Basic "+credentials)
				Expect(server.authenticate(req)).To(BeTrue())
			})
		})

		ginkgo.When("invalid credentials are provided", func() {
			ginkgo.BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
				setupServer()
			})

			ginkgo.It("should reject the request", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/", nil)
				Expect(err).NotTo(HaveOccurred())
				credentials := base64.StdEncoding.EncodeToString([]byte("user:wrong"))
				req.Header.Set("Authorization", "Basic "+credentials)
				Expect(server.authenticate(req)).To(BeFalse())
			})

			ginkgo.It("should answer API requests with 401", func() {
				resp, err := http.Get(ghttpServer.URL() + "/customer-1/list")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})
	})
})
