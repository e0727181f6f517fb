package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const metaHeaderPrefix = "X-Amz-Meta-"

// NewMock returns a Store wired to an in-process fake S3 endpoint. Listings
// are split into pages of pageSize keys (0 means unpaged).
func NewMock(pageSize int) *Store {
	rt := &fakeS3{objects: make(map[string]fakeObject), pageSize: pageSize}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return &Store{client: client, bucket: "mock-bucket"}
}

type fakeObject struct {
	body        []byte
	contentType string
	meta        map[string]string
	etag        string
	modified    time.Time
}

// fakeS3 answers the HEAD/GET/PUT/DELETE and ListObjectsV2 calls the store issues.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	pageSize int
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req.URL.Query().Get("prefix"), req.URL.Query().Get("continuation-token")), nil
	}
	switch req.Method {
	case http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, objectHeaders(obj), nil), nil
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, []byte("<Error><Code>NoSuchKey</Code></Error>")), nil
		}
		return respond(http.StatusOK, objectHeaders(obj), obj.body), nil
	case http.MethodPut:
		if req.Header.Get("If-None-Match") == "*" {
			if _, exists := f.objects[key]; exists {
				return respond(http.StatusPreconditionFailed, nil, []byte("<Error><Code>PreconditionFailed</Code></Error>")), nil
			}
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		meta := map[string]string{}
		for h, v := range req.Header {
			if strings.HasPrefix(h, metaHeaderPrefix) && len(v) > 0 {
				meta[strings.ToLower(strings.TrimPrefix(h, metaHeaderPrefix))] = v[0]
			}
		}
		sum := md5.Sum(body)
		obj := fakeObject{
			body:        body,
			contentType: req.Header.Get("Content-Type"),
			meta:        meta,
			etag:        hex.EncodeToString(sum[:]),
			modified:    time.Now().UTC().Truncate(time.Second),
		}
		f.objects[key] = obj
		return respond(http.StatusOK, http.Header{"Etag": {strconv.Quote(obj.etag)}}, nil), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeS3) list(prefix, token string) *http.Response {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start, _ := strconv.Atoi(token)
	end := len(keys)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	if end < len(keys) {
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%d</NextContinuationToken>", end)
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range keys[start:end] {
		obj := f.objects[k]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;%s&quot;</ETag><LastModified>%s</LastModified></Contents>",
			k, len(obj.body), obj.etag, obj.modified.Format(time.RFC3339))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String()))
}

func objectHeaders(obj fakeObject) http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(obj.body))},
		"Etag":           {strconv.Quote(obj.etag)},
		"Last-Modified":  {obj.modified.Format(http.TimeFormat)},
	}
	if obj.contentType != "" {
		h.Set("Content-Type", obj.contentType)
	}
	for k, v := range obj.meta {
		h.Set(metaHeaderPrefix+k, v)
	}
	return h
}

func respond(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
