// Package auth provides the collector's HTTP authentication middleware.
//
// Two modes guard the batch endpoint:
//
//   - Bearer(mode, token) compares a static shared token in constant time.
//     With mode "none" or an empty expected token it is a no-op.
//   - Verifier checks HS256 agent tokens minted with the same secret. The
//     token subject names the agent and is available via AgentFrom.
//
// Both reply 401 with a WWW-Authenticate header, which agents treat as
// retryable after re-reading their credential.
package auth
