package testutil

import (
	"encoding/json"
	"io/ioutil"
	"path"
	"runtime"
	"testing"

	"github.com/JiscSD/rdss-repository-core/content"
)

// Fixture loads a file from the testdata directory of this package.
func Fixture(t *testing.T, relPath string) []byte {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("error loading caller")
	}

	p := path.Join(path.Dir(filename), "testdata", relPath)

	bytes, err := ioutil.ReadFile(p)
	if err != nil {
		t.Fatalf("error loading fixture %s: %v", p, err)
	}

	return bytes
}

// MetadataFixture loads a list of metadata values from testdata.
func MetadataFixture(t *testing.T, relPath string) []content.MetadataValue {
	t.Helper()

	var values []content.MetadataValue
	if err := json.Unmarshal(Fixture(t, relPath), &values); err != nil {
		t.Fatalf("error decoding fixture %s: %v", relPath, err)
	}

	return values
}
