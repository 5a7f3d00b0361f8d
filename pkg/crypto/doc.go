// Package crypto implements end-to-end payload cryptography: hybrid
// RSA-PKCS1v15 + AES-CTR envelope encryption so that only the organization
// holding the matching private key can decrypt a payload addressed to it.
//
// A Cryptor is a value type owned by a single node process: the node agent
// holds it (Agent.cryptor) to decrypt run input and encrypt run results.
// The coordinator holds no Cryptor; it only calls LooksFramed to check a
// payload's framing. There is no global mutable key.
package crypto
