/*
Package dive implements attribute-based access control and cryptographic
key release for coalition information sharing.

# Overview

DIVE-V3-sub010 decides whether a coalition partner may read a classified
resource and, when the answer is yes, releases the data-encryption key
that makes the content readable. Policy evaluation and key custody are
deliberately one system: a resource's DEK is only ever unwrapped behind a
fresh ALLOW verdict.

# Package Structure

The library is organized into the following packages:

	github.com/albeach/DIVE-V3-sub010/pkg/clearance - National clearance equivalency resolution
	github.com/albeach/DIVE-V3-sub010/pkg/coi       - Community-of-interest membership
	github.com/albeach/DIVE-V3-sub010/pkg/label     - Security labels and canonical serialization
	github.com/albeach/DIVE-V3-sub010/pkg/decision  - Authorization decision evaluation
	github.com/albeach/DIVE-V3-sub010/pkg/security  - Label signing, key wrapping, hashing
	github.com/albeach/DIVE-V3-sub010/pkg/release   - Key-release orchestration

The internal packages assemble these into a running service: configuration,
keystores, MongoDB and in-memory storage, auditing, and the service facade
with metrics and policy file watching. The divekas binary under cmd wraps
the whole thing in a CLI.

# Quick Start

To evaluate an access decision:

	import (
	    "github.com/albeach/DIVE-V3-sub010/pkg/clearance"
	    "github.com/albeach/DIVE-V3-sub010/pkg/coi"
	    "github.com/albeach/DIVE-V3-sub010/pkg/decision"
	)

	table, _ := clearance.LoadTable("clearances.yaml")
	registry, _ := coi.LoadRegistry("communities.yaml")
	evaluator := decision.NewEvaluator(
	    clearance.NewResolver(table),
	    coi.NewResolver(registry),
	)

	verdict := evaluator.Evaluate(decision.Request{
	    Subject:   subject,
	    Resource:  resourceLabel,
	    Operation: "read",
	})
	if verdict.Allowed() {
	    // honor verdict.Obligations, then release
	}

# Authorization Model

Decisions apply four gates in a fixed order, each of which can deny on its
own (deny-overrides):

  - Clearance: the subject's national marking, resolved through the
    equivalency table, must dominate the resource classification
  - Releasability: the subject's country must appear in the resource's
    REL set when one is present
  - Community of interest: the resource's COI requirement must be
    satisfied, with membership resolved per community kind
  - Assurance: at or above a configured classification, a minimum
    authenticator assurance level applies

Unknown markings, communities, and operators all fail secure: they rank
lowest, grant nothing, and satisfy nothing.

# Security Features

  - RSA-SHA256 detached signatures over a canonical CBOR form bind labels
    to their policy content
  - AES-256 key wrapping protects DEKs at rest; each wrap derives a fresh
    wrapping key so equal inputs never produce equal ciphertexts
  - SHA-384 hashing supports content integrity manifests
  - Key releases follow an explicit state machine whose terminal states
    distinguish policy denial from key-material failure

# References

  - NATO STANAG 4774 (Confidentiality Metadata Label Syntax)
  - NIST SP 800-162 (Guide to Attribute Based Access Control)
  - RFC 3394 (AES Key Wrap Algorithm)
*/
package dive
