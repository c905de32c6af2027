package barrier

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/ledgerops/ledger-network-runner/network"
)

// FaultMarker is logged by a node that detected itself equivocating.
const FaultMarker = "this validator is faulty"

const maxLogLine = 16 << 20

// CheckFaulty reports whether [nodeID]'s output contains the fault marker.
// It doesn't block: false only means the marker isn't there yet.
func CheckFaulty(layout network.Layout, nodeID int) (bool, error) {
	f, err := os.Open(layout.NodeStdout(nodeID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), maxLogLine)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), FaultMarker) {
			return true, nil
		}
	}
	return false, scanner.Err()
}
