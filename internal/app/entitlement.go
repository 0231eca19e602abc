/**
 * @description
 * This file implements the entitlement manager: minting download tokens when an
 * order completes and consuming download quota on each fetch.
 *
 * Minting is guarded twice: the reconciliation engine only runs it on a real
 * pending -> completed transition, and the store refuses to overwrite an
 * existing token. Consumption is a single compare-and-increment in the store,
 * so concurrent downloads can never both pass the quota check.
 */

package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/packlane/order-service/internal/domain"
	"github.com/packlane/order-service/internal/store"
)

var (
	ErrDownloadUnknown = errors.New("unknown download token")
	ErrDownloadExpired = errors.New("download link expired")
	ErrQuotaExceeded   = errors.New("download quota exceeded")
)

// downloadTokenBytes sizes the minted token at 256 bits of entropy.
const downloadTokenBytes = 32

func newDownloadToken() (string, error) {
	buf := make([]byte, downloadTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token generation failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// mintEntitlement attaches a fresh download token and quota to a completed
// order. Safe to call repeatedly: once a token exists the store reports the
// attach as a no-op and the existing token stays authoritative.
func (s *Service) mintEntitlement(ctx context.Context, order *domain.Order) error {
	if order.DownloadToken != "" {
		return nil
	}

	token, err := newDownloadToken()
	if err != nil {
		return err
	}

	attached, err := s.repo.AttachEntitlement(ctx, order.ID, token, s.policy.MaxDownloads)
	if err != nil {
		return fmt.Errorf("entitlement attach failed: %w", err)
	}
	if !attached {
		// A concurrent or earlier mint won; keep its token.
		log.Printf("level=info component=entitlement msg=\"token already minted\" order_id=%s", order.ID)
		return nil
	}

	order.DownloadToken = token
	order.MaxDownloads = s.policy.MaxDownloads
	order.DownloadCount = 0
	return nil
}

// ConsumeDownload redeems one download against a token's quota and returns the
// asset grant. Outcomes map to ErrDownloadUnknown, ErrDownloadExpired, and
// ErrQuotaExceeded; the API layer presents all three identically so callers
// cannot probe for valid tokens.
//
// A refund does not revoke an already-issued token: refunded-after-completed
// orders remain entitled until their quota or link expiry runs out.
func (s *Service) ConsumeDownload(ctx context.Context, token string) (*domain.DownloadGrant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrDownloadUnknown
	}

	order, err := s.repo.FindOrderByDownloadToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrEntitlementNotFound) {
			return nil, ErrDownloadUnknown
		}
		return nil, fmt.Errorf("token lookup failed: %w", err)
	}

	if s.policy.DownloadLinkTTL > 0 && order.CompletedAt != nil && time.Since(*order.CompletedAt) > s.policy.DownloadLinkTTL {
		return nil, ErrDownloadExpired
	}

	updated, err := s.repo.ConsumeDownload(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrQuotaExhausted):
			return nil, ErrQuotaExceeded
		case errors.Is(err, store.ErrEntitlementNotFound):
			return nil, ErrDownloadUnknown
		}
		return nil, fmt.Errorf("download consume failed: %w", err)
	}

	return &domain.DownloadGrant{
		OrderID:   updated.ID,
		ProductID: updated.ProductID,
		AssetURL:  s.assetURL(updated.ProductID),
		Remaining: updated.MaxDownloads - updated.DownloadCount,
	}, nil
}

func (s *Service) assetURL(productID string) string {
	base := strings.TrimRight(s.policy.AssetBaseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/" + productID
}
