//go:build windows

package entropy

import "github.com/google/go-tpm/tpm2/transport"

// openTPM ignores path: Windows exposes a single TBS-managed TPM.
func openTPM(string) (transport.TPMCloser, error) {
	return transport.OpenTPM()
}
