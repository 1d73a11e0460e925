package audit

import "fmt"

// LinkError reports the first receipt whose prevHash does not match the
// hash recorded before it in the same epoch.
type LinkError struct {
	Epoch int
	Index int
	Want  string
	Got   string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("audit: epoch %d receipt %d: prevHash %q, want %q", e.Epoch, e.Index, e.Got, e.Want)
}

// VerifyLinks checks prevHash linkage of the recorded receipts of one
// case, taken in journal order. Gaps are skipped since they never moved
// the cursor. Each epoch must start from the empty sentinel.
func VerifyLinks(receipts []Receipt) error {
	last := map[int]string{}
	for i, r := range receipts {
		if !r.Recorded {
			continue
		}
		want := last[r.Epoch]
		if r.PrevHash != want {
			return &LinkError{Epoch: r.Epoch, Index: i, Want: want, Got: r.PrevHash}
		}
		last[r.Epoch] = r.Hash
	}
	return nil
}
