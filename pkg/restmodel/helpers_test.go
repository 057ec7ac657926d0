package restmodel_test

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/restmodel-io/restmodel/pkg/restmodel"
	"github.com/restmodel-io/restmodel/pkg/restmodeltest"
)

// newTestClass builds a class backed by a stub transport. The class name
// must be unique per test because classes register globally; the element
// name pins URL segments independently of that uniqueness.
func newTestClass(t *testing.T, name, element string) (*restmodel.Class, *restmodeltest.Registry) {
	t.Helper()

	registry := restmodeltest.NewRegistry()

	class := restmodel.NewClass(name,
		restmodel.WithSite("http://example.com"),
		restmodel.WithElementName(element),
	)
	class.SetTransport(registry)

	return class, registry
}

func newRecordedResponse(status int, body []byte, headers map[string]string) *http.Response {
	header := make(http.Header)
	for key, value := range headers {
		header.Set(key, value)
	}

	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}
