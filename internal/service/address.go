package service

import (
	"context"
	"fmt"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// AddressStore is the slice of the store the address book needs.
type AddressStore interface {
	CreateAddress(ctx context.Context, addr *models.AddressDetails) error
	GetAddressByID(ctx context.Context, id int64) (*models.AddressDetails, error)
	GetAddressesByUser(ctx context.Context, userID int64) ([]models.AddressDetails, error)
	GetDefaultAddress(ctx context.Context, userID int64) (*models.AddressDetails, error)
	UpdateAddress(ctx context.Context, addr *models.AddressDetails) error
	DeleteAddress(ctx context.Context, id int64) error
	ClearDefaultAddress(ctx context.Context, userID int64) error
	SetDefaultAddress(ctx context.Context, addressID int64) error
}

// AddressFields carries the postal fields for add/edit.
type AddressFields struct {
	Line1    string
	Line2    string
	Town     string
	City     string
	Postcode string
}

// AddressService manages the per-user address book and its single-default
// invariant.
type AddressService struct {
	addresses AddressStore
	orders    OrderStore
	locks     Locker
	logger    *zap.Logger
}

// NewAddressService creates a new address service
func NewAddressService(addresses AddressStore, orders OrderStore, locks Locker) *AddressService {
	return &AddressService{
		addresses: addresses,
		orders:    orders,
		locks:     locks,
		logger:    util.GetLogger(),
	}
}

// AddAddress creates an address. It becomes the user's default and, when an
// open order exists without triggering checkout, is attached to it.
func (s *AddressService) AddAddress(ctx context.Context, userID int64, fields AddressFields) (*models.AddressDetails, error) {
	addr := &models.AddressDetails{
		UserID:   userID,
		Line1:    fields.Line1,
		Line2:    fields.Line2,
		Town:     fields.Town,
		City:     fields.City,
		Postcode: fields.Postcode,
	}

	err := s.locks.WithLock(ctx, userLockKey(userID), func(ctx context.Context) error {
		if err := s.addresses.CreateAddress(ctx, addr); err != nil {
			return fmt.Errorf("failed to create address: %w", err)
		}
		if err := s.swapDefault(ctx, userID, addr.ID); err != nil {
			return err
		}
		addr.IsDefault = true

		open, err := s.orders.GetOpenOrderByUser(ctx, userID)
		if err != nil {
			return err
		}
		if open != nil {
			if err := s.orders.SetOrderAddress(ctx, open.ID, addr.ID); err != nil {
				return fmt.Errorf("failed to attach address to open order: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Address added",
		zap.Int64("address_id", addr.ID), zap.Int64("user_id", userID))
	return addr, nil
}

// ListAddresses returns the user's addresses, default first.
func (s *AddressService) ListAddresses(ctx context.Context, userID int64) ([]models.AddressDetails, error) {
	return s.addresses.GetAddressesByUser(ctx, userID)
}

// EditAddress updates an address's postal fields.
func (s *AddressService) EditAddress(ctx context.Context, userID, addressID int64, fields AddressFields) error {
	addr, err := s.ownedAddress(ctx, userID, addressID)
	if err != nil {
		return err
	}

	addr.Line1 = fields.Line1
	addr.Line2 = fields.Line2
	addr.Town = fields.Town
	addr.City = fields.City
	addr.Postcode = fields.Postcode
	return s.addresses.UpdateAddress(ctx, addr)
}

// DeleteAddress removes an address. An address still referenced by a placed
// or dispatched order cannot be deleted; historical orders keep pointing at
// the address they shipped to. When the deleted address was the default, the
// newest remaining address takes over.
func (s *AddressService) DeleteAddress(ctx context.Context, userID, addressID int64) error {
	addr, err := s.ownedAddress(ctx, userID, addressID)
	if err != nil {
		return err
	}

	active, err := s.orders.CountActiveOrdersForAddress(ctx, addressID)
	if err != nil {
		return err
	}
	if active > 0 {
		return ErrAddressInUse
	}

	return s.locks.WithLock(ctx, userLockKey(userID), func(ctx context.Context) error {
		if err := s.addresses.DeleteAddress(ctx, addressID); err != nil {
			return fmt.Errorf("failed to delete address: %w", err)
		}

		if !addr.IsDefault {
			return nil
		}

		remaining, err := s.addresses.GetAddressesByUser(ctx, userID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}

		newest := remaining[0]
		for _, a := range remaining[1:] {
			if a.ID > newest.ID {
				newest = a
			}
		}
		return s.addresses.SetDefaultAddress(ctx, newest.ID)
	})
}

// SetDefault makes an address the user's default. The clear-then-set swap
// runs under the per-user lock, so the final state is always exactly one
// default. Idempotent when the address already is the default.
func (s *AddressService) SetDefault(ctx context.Context, userID, addressID int64) error {
	if _, err := s.ownedAddress(ctx, userID, addressID); err != nil {
		return err
	}

	return s.locks.WithLock(ctx, userLockKey(userID), func(ctx context.Context) error {
		return s.swapDefault(ctx, userID, addressID)
	})
}

// GetDefault returns the user's default address, nil when they have none.
func (s *AddressService) GetDefault(ctx context.Context, userID int64) (*models.AddressDetails, error) {
	return s.addresses.GetDefaultAddress(ctx, userID)
}

// swapDefault clears the current default before setting the new one; calls
// run under the per-user lock.
func (s *AddressService) swapDefault(ctx context.Context, userID, addressID int64) error {
	if err := s.addresses.ClearDefaultAddress(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear default address: %w", err)
	}
	if err := s.addresses.SetDefaultAddress(ctx, addressID); err != nil {
		return fmt.Errorf("failed to set default address: %w", err)
	}
	return nil
}

func (s *AddressService) ownedAddress(ctx context.Context, userID, addressID int64) (*models.AddressDetails, error) {
	addr, err := s.addresses.GetAddressByID(ctx, addressID)
	if err != nil {
		return nil, err
	}
	if addr == nil || addr.UserID != userID {
		return nil, ErrNotFound
	}
	return addr, nil
}
