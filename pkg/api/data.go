package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

type Parameter map[string]string

func (p Parameter) Encode() string {
	var parameters []string
	for key, value := range p {
		parameters = append(parameters, key+"="+url.QueryEscape(value))
	}
	sort.Strings(parameters)
	return strings.Join(parameters, "&")
}

type Body interface {
	ToReader() (io.Reader, string, error)
}

type JSONBody struct {
	value any
}

func NewJSONBody(value any) JSONBody {
	return JSONBody{value: value}
}

func (b JSONBody) ToReader() (io.Reader, string, error) {
	data, err := json.Marshal(b.value)
	if err != nil {
		return nil, "", err
	}

	return bytes.NewBuffer(data), "application/json", nil
}

type Response struct {
	Code    int
	Header  http.Header
	RawBody []byte
}

func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.RawBody, v)
}
