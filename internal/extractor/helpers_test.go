package extractor

import "github.com/hashicorp/go-hclog"

func testLogger() hclog.Logger {
	return hclog.NewNullLogger()
}
