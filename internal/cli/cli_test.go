package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/pipeline"
)

var _ = Describe("kind parsing", func() {
	DescribeTable("accepts",
		func(arg, kind, id string) {
			k, i, err := parseAndValidateKindId(arg)
			Expect(err).To(BeNil())
			Expect(k).To(Equal(kind))
			Expect(i).To(Equal(id))
		},
		Entry("jobs", "jobs", JobKind, ""),
		Entry("one job", "jobs/abc", JobKind, "abc"),
		Entry("singular job", "job/abc", JobKind, "abc"),
		Entry("status", "status", StatusKind, ""),
		Entry("history", "history", HistoryKind, ""),
	)

	DescribeTable("rejects",
		func(arg string) {
			_, _, err := parseAndValidateKindId(arg)
			Expect(err).NotTo(BeNil())
		},
		Entry("unknown kind", "sources"),
		Entry("status with id", "status/1"),
	)
})

var _ = Describe("get", func() {
	var (
		srv      *httptest.Server
		requests []string
	)

	BeforeEach(func() {
		requests = nil
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
			requests = append(requests, r.Method+" "+r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jobs": []pipeline.JobView{
					{ID: "a", Name: "cat.png", Status: jobs.StatusCompleted},
					{ID: "b", Name: "broken.png", Status: jobs.StatusError, Error: "unsupported image"},
				},
			})
		})
		mux.HandleFunc("/api/v1/jobs/missing", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"job missing: job not found"}`))
		})
		mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
			requests = append(requests, r.Method+" "+r.URL.Path)
			_ = json.NewEncoder(w).Encode(pipeline.Status{
				BatchActive: true,
				Stages:      []pipeline.StageStatus{{Name: "segmentation", Queued: 2}},
				Jobs:        map[jobs.Status]int{jobs.StatusQueued: 2},
				Total:       2,
			})
		})
		srv = httptest.NewServer(mux)
	})

	AfterEach(func() {
		srv.Close()
	})

	options := func(output string) (*GetOptions, *bytes.Buffer) {
		var out bytes.Buffer
		o := DefaultGetOptions()
		o.ServerUrl = srv.URL
		o.Output = output
		o.out = &out
		return o, &out
	}

	It("prints jobs as a table", func() {
		o, out := options("")
		Expect(o.Validate([]string{"jobs"})).To(Succeed())
		Expect(o.Run(context.TODO(), []string{"jobs"})).To(Succeed())
		Expect(out.String()).To(ContainSubstring("ID"))
		Expect(out.String()).To(ContainSubstring("cat.png"))
		Expect(out.String()).To(ContainSubstring("unsupported image"))
	})

	It("prints the status as yaml", func() {
		o, out := options(yamlFormat)
		Expect(o.Run(context.TODO(), []string{"status"})).To(Succeed())
		Expect(out.String()).To(ContainSubstring("batchActive: true"))
		Expect(out.String()).To(ContainSubstring("name: segmentation"))
	})

	It("prints jobs as json", func() {
		o, out := options(jsonFormat)
		Expect(o.Run(context.TODO(), []string{"jobs"})).To(Succeed())
		var views []pipeline.JobView
		Expect(json.Unmarshal(out.Bytes(), &views)).To(Succeed())
		Expect(views).To(HaveLen(2))
	})

	It("reports server errors", func() {
		o, _ := options("")
		err := o.Run(context.TODO(), []string{"jobs/missing"})
		Expect(err).To(MatchError(ContainSubstring("404")))
		Expect(err).To(MatchError(ContainSubstring("job not found")))
	})

	It("refreshes until the context ends with --watch", func() {
		o, _ := options("")
		o.Watch = true
		o.Interval = 100 * time.Millisecond
		ctx, cancel := context.WithTimeout(context.Background(), 450*time.Millisecond)
		defer cancel()

		Expect(o.Run(ctx, []string{"status"})).To(Succeed())
		Expect(len(requests)).To(BeNumerically(">=", 2))
	})

	It("rejects unknown output formats", func() {
		o, _ := options("xml")
		Expect(o.Validate([]string{"jobs"})).NotTo(Succeed())
	})

	It("rejects a server url without scheme", func() {
		o, _ := options("")
		o.ServerUrl = "localhost:8080"
		Expect(o.Validate([]string{"jobs"})).NotTo(Succeed())
	})
})

var _ = Describe("add and delete", func() {
	It("uploads files and starts a batch", func() {
		var (
			uploads []string
			batches int
			deletes []string
		)
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodDelete {
				deletes = append(deletes, "all")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			file, header, err := r.FormFile("image")
			Expect(err).To(BeNil())
			data, _ := io.ReadAll(file)
			uploads = append(uploads, header.Filename+":"+string(data))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"job-1"}`))
		})
		mux.HandleFunc("/api/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
			deletes = append(deletes, r.Method+" job-1")
			w.WriteHeader(http.StatusNoContent)
		})
		mux.HandleFunc("/api/v1/batch", func(w http.ResponseWriter, r *http.Request) {
			batches++
			w.WriteHeader(http.StatusAccepted)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "cat.png")
		Expect(os.WriteFile(path, []byte("png"), 0o600)).To(Succeed())

		var out bytes.Buffer
		add := DefaultAddOptions()
		add.ServerUrl = srv.URL
		add.Start = true
		add.out = &out
		Expect(add.Validate([]string{path})).To(Succeed())
		Expect(add.Run(context.TODO(), []string{path})).To(Succeed())
		Expect(uploads).To(Equal([]string{"cat.png:png"}))
		Expect(batches).To(Equal(1))
		Expect(out.String()).To(ContainSubstring("job/job-1 added"))

		del := DefaultDeleteOptions()
		del.ServerUrl = srv.URL
		del.out = &out
		Expect(del.Validate([]string{"jobs/job-1"})).To(Succeed())
		Expect(del.Run(context.TODO(), []string{"jobs/job-1"})).To(Succeed())
		Expect(del.Run(context.TODO(), []string{"jobs"})).To(Succeed())
		Expect(deletes).To(Equal([]string{"DELETE job-1", "all"}))

		Expect(del.Validate([]string{"status"})).NotTo(Succeed())
		Expect(add.Validate([]string{dir})).NotTo(Succeed())
	})
})

var _ = Describe("process", func() {
	writeImage := func(path string) {
		src := image.NewNRGBA(image.Rect(0, 0, 40, 40))
		for y := 0; y < 40; y++ {
			for x := 0; x < 40; x++ {
				c := color.NRGBA{R: 245, G: 245, B: 245, A: 255}
				if x >= 12 && x < 28 && y >= 12 && y < 28 {
					c = color.NRGBA{R: 200, G: 30, B: 30, A: 255}
				}
				src.SetNRGBA(x, y, c)
			}
		}
		var buf bytes.Buffer
		Expect(png.Encode(&buf, src)).To(Succeed())
		Expect(os.WriteFile(path, buf.Bytes(), 0o600)).To(Succeed())
	}

	It("writes a cutout for every image of the input directory", func() {
		in := GinkgoT().TempDir()
		outDir := filepath.Join(GinkgoT().TempDir(), "out")
		writeImage(filepath.Join(in, "one.png"))
		writeImage(filepath.Join(in, "two.png"))
		Expect(os.WriteFile(filepath.Join(in, "notes.txt"), []byte("skip me"), 0o600)).To(Succeed())

		cfgFile := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(cfgFile, []byte("pipeline:\n  modelInputSize: 32\n  maxImageDimension: 64\n"), 0o600)).To(Succeed())

		var out bytes.Buffer
		o := DefaultProcessOptions()
		o.ConfigFile = cfgFile
		o.Input = in
		o.Output = outDir
		o.Timeout = 20 * time.Second
		o.out = &out
		Expect(o.Validate(nil)).To(Succeed())
		Expect(o.Run(context.TODO(), nil)).To(Succeed())

		for _, name := range []string{"one.png", "two.png"} {
			data, err := os.ReadFile(filepath.Join(outDir, name))
			Expect(err).To(BeNil())
			img, err := png.Decode(bytes.NewReader(data))
			Expect(err).To(BeNil())
			_, _, _, a := img.At(0, 0).RGBA()
			Expect(a).To(BeZero())
		}
		Expect(out.String()).To(ContainSubstring("2 images processed"))
	})

	It("fails when an image cannot be decoded", func() {
		in := GinkgoT().TempDir()
		writeImage(filepath.Join(in, "good.png"))
		Expect(os.WriteFile(filepath.Join(in, "bad.jpg"), []byte("not a jpeg"), 0o600)).To(Succeed())

		var out bytes.Buffer
		o := DefaultProcessOptions()
		o.Input = in
		o.Output = GinkgoT().TempDir()
		o.Timeout = 20 * time.Second
		o.out = &out
		err := o.Run(context.TODO(), nil)
		Expect(err).To(MatchError(ContainSubstring("1 of 2 images failed")))
		Expect(out.String()).To(ContainSubstring("unsupported image"))
		Expect(filepath.Join(o.Output, "good.png")).To(BeAnExistingFile())
	})

	It("rejects a missing input directory", func() {
		o := DefaultProcessOptions()
		o.Input = filepath.Join(GinkgoT().TempDir(), "absent")
		Expect(o.Validate(nil)).NotTo(Succeed())
	})
})
