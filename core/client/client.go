// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice for unit tests. Created with NewWithURL, the same client talks to
a remote service over HTTP, which is how the ingestion bridge forwards readings.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/sensorhub/core/access"
)

// DefaultTimeout is the timeout of clients created with NewWithURL
const DefaultTimeout = 20 * time.Second

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context
	cookies    []*http.Cookie

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: DefaultTimeout},
		defaultHeaders: map[string]string{},
	}
}

// WithTimeout returns a new client with a different request timeout. It has no effect
// on clients talking to the router.
func (c Client) WithTimeout(timeout time.Duration) Client {
	if c.httpClient != nil {
		c.httpClient = &http.Client{Timeout: timeout, Transport: c.httpClient.Transport}
	}
	return c
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := make(map[string]string, len(c.defaultHeaders)+1)
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client which sends token as bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithCookie returns a new client which sends cookie with every request
func (c Client) WithCookie(cookie *http.Cookie) Client {
	c.cookies = append(append([]*http.Cookie{}, c.cookies...), cookie)
	return c
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithCookie())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the base context of all requests
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = access.ContextWithAuthorization(ctx, c.auth)
	}
	return ctx
}

// response is the outcome of one round trip
type response struct {
	status  int
	header  http.Header
	cookies []*http.Cookie
	body    []byte
}

// do sends a request either through the router or over the wire
func (c Client) do(method, path string, header map[string]string, body []byte) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewBuffer(body)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	for key, value := range c.defaultHeaders {
		r.Header.Set(key, value)
	}
	for key, value := range header {
		r.Header.Set(key, value)
	}
	for _, cookie := range c.cookies {
		r.AddCookie(cookie)
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}

	var res *http.Response
	var resBody []byte
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res = rec.Result()
		resBody = rec.Body.Bytes()
	} else {
		res, err = c.httpClient.Do(r)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()
		resBody, err = io.ReadAll(res.Body)
		if err != nil {
			return nil, err
		}
	}
	return &response{
		status:  res.StatusCode,
		header:  res.Header,
		cookies: res.Cookies(),
		body:    resBody,
	}, nil
}

// decode unmarshals the body into result. result can be a raw *[]byte or nil.
func (res *response) decode(result interface{}) error {
	if len(res.body) == 0 || result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = res.body
		return nil
	}
	return json.Unmarshal(res.body, result)
}

func (res *response) expect(want int, accepted ...int) error {
	if res.status == want {
		return nil
	}
	for _, status := range accepted {
		if res.status == status {
			return nil
		}
	}
	return &StatusError{Status: res.status, Want: want, Body: strings.TrimSpace(string(res.body))}
}

// StatusError is returned when a handler answered with an unexpected status code
type StatusError struct {
	Status int
	Want   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("handler returned wrong status code: got %v want %v. Error: %s", e.Status, e.Want, e.Body)
}

func marshal(method, path string, body interface{}) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if j, ok := body.([]byte); ok {
		return j, nil
	}
	j, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s to %s: %w", method, path, err)
	}
	return j, nil
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	res, err := c.do(http.MethodGet, path, nil, nil)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	if err := res.expect(http.StatusOK, http.StatusNoContent); err != nil {
		return res.status, err
	}
	return res.status, res.decode(result)
}

// RawPost posts a resource to path. Expects http.StatusOK or http.StatusCreated as
// response, otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.RawPostWithHeader(path, nil, body, result)
}

// RawPostWithHeader is RawPost with additional request headers
func (c Client) RawPostWithHeader(path string, header map[string]string, body interface{}, result interface{}) (int, error) {
	j, err := marshal(http.MethodPost, path, body)
	if err != nil {
		return http.StatusBadRequest, err
	}
	h := map[string]string{"Content-Type": "application/json"}
	for key, value := range header {
		h[key] = value
	}
	res, err := c.do(http.MethodPost, path, h, j)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	if err := res.expect(http.StatusOK, http.StatusCreated); err != nil {
		return res.status, err
	}
	return res.status, res.decode(result)
}

// RawPostForm posts url-encoded form values to path, the way a browser submits a form.
// Expects http.StatusOK as response. Returns the actual http status code and the cookies
// the handler has set.
func (c Client) RawPostForm(path string, form url.Values, result interface{}) (int, []*http.Cookie, error) {
	res, err := c.do(http.MethodPost, path,
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		[]byte(form.Encode()))
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	if err := res.expect(http.StatusOK); err != nil {
		return res.status, res.cookies, err
	}
	return res.status, res.cookies, res.decode(result)
}

// RawPut puts a resource to path. Expects http.StatusOK, http.StatusCreated or http.StatusNoContent as valid responses,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	j, err := marshal(http.MethodPut, path, body)
	if err != nil {
		return http.StatusBadRequest, err
	}
	res, err := c.do(http.MethodPut, path, map[string]string{"Content-Type": "application/json"}, j)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	if err := res.expect(http.StatusOK, http.StatusCreated, http.StatusNoContent); err != nil {
		return res.status, err
	}
	return res.status, res.decode(result)
}

// RawDelete deletes the resource at path. Expects http.StatusOK or http.StatusNoContent
// as response, otherwise it will flag an error.
//
// Returns the actual http status code.
func (c Client) RawDelete(path string, result interface{}) (int, error) {
	res, err := c.do(http.MethodDelete, path, nil, nil)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	if err := res.expect(http.StatusOK, http.StatusNoContent); err != nil {
		return res.status, err
	}
	return res.status, res.decode(result)
}

// Readings represents the readings of one sensor type
type Readings struct {
	client     Client
	sensorType string
	parameters url.Values
}

// Readings returns a client for the readings of sensorType
func (c Client) Readings(sensorType string) Readings {
	return Readings{client: c, sensorType: sensorType, parameters: url.Values{}}
}

// WithParameter returns a new readings client with a query parameter added, for
// example "order-by" or "start-date"
func (r Readings) WithParameter(key string, value string) Readings {
	parameters := url.Values{}
	for k, v := range r.parameters {
		parameters[k] = v
	}
	parameters.Set(key, value)
	r.parameters = parameters
	return r
}

// Path returns the collection path including query parameters
func (r Readings) Path() string {
	path := "/api/" + url.PathEscape(r.sensorType)
	if len(r.parameters) > 0 {
		path += "?" + r.parameters.Encode()
	}
	return path
}

func (r Readings) itemPath(id int64) string {
	return "/api/" + url.PathEscape(r.sensorType) + "/" + strconv.FormatInt(id, 10)
}

// List lists the readings
func (r Readings) List(result interface{}) (int, error) {
	return r.client.RawGet(r.Path(), result)
}

// Create creates a new reading and returns its id
func (r Readings) Create(body interface{}) (int64, int, error) {
	var created struct {
		ID int64 `json:"id"`
	}
	status, err := r.client.RawPost("/api/"+url.PathEscape(r.sensorType), body, &created)
	return created.ID, status, err
}

// Read reads the reading with id
func (r Readings) Read(id int64, result interface{}) (int, error) {
	return r.client.RawGet(r.itemPath(id), result)
}

// Update updates the reading with id
func (r Readings) Update(id int64, body interface{}) (int, error) {
	return r.client.RawPut(r.itemPath(id), body, nil)
}

// Delete deletes the reading with id
func (r Readings) Delete(id int64) (int, error) {
	return r.client.RawDelete(r.itemPath(id), nil)
}

// Count returns the number of readings
func (r Readings) Count() (int64, int, error) {
	var count struct {
		Count int64 `json:"count"`
	}
	status, err := r.client.RawGet("/api/"+url.PathEscape(r.sensorType)+"/count", &count)
	return count.Count, status, err
}
