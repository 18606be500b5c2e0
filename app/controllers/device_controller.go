package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/lomitrack/lomitrack/app/models"
	"github.com/lomitrack/lomitrack/app/repository"
	"github.com/lomitrack/lomitrack/internal/pkg/entitlements"
	"github.com/lomitrack/lomitrack/internal/pkg/tracking"
	"github.com/lomitrack/lomitrack/internal/pkg/usercontext"
)

var trackingClient *tracking.Client

// SetTrackingClient installs the tracking service client (called once
// from main during startup).
func SetTrackingClient(client *tracking.Client) {
	trackingClient = client
}

type registerDeviceRequest struct {
	Name string `json:"name"`
	IMEI string `json:"imei"`
}

// HandleRegisterDevice registers a new GPS tracker. The device must be
// created on the tracking service first; without a remote identity the
// local row is never written.
func HandleRegisterDevice(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	repos := repository.GetGlobalFactory().GetRepositories()

	var req registerDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	device := &models.Device{
		UserID: uc.UserID,
		Name:   req.Name,
		IMEI:   req.IMEI,
	}
	if err := device.Validate(); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	if _, err := repos.Device.GetByIMEI(req.IMEI); err == nil {
		return jsonError(c, fiber.StatusConflict, "conflict", "A device with this IMEI is already registered")
	}

	sub, err := repos.Subscription.GetByUserID(uc.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscription")
	}
	activeDevices, err := repos.Device.CountActiveByUserID(uc.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count devices")
	}
	if !entitlements.CanRegisterDevice(sub, activeDevices, time.Now()) {
		return jsonError(c, fiber.StatusForbidden, "device_limit_reached", "Your plan does not allow more devices")
	}

	remote, err := trackingClient.CreateDevice(c.Context(), req.Name, req.IMEI)
	if err != nil {
		log.Errorf("[Device] Remote create for IMEI %s: %v", req.IMEI, err)
		return jsonError(c, fiber.StatusBadGateway, "tracking_unavailable", "Tracking service rejected the device")
	}
	device.ExternalID = remote.ID

	if err := repos.Device.Create(device); err != nil {
		// Local write failed after the remote create succeeded; undo the
		// remote side so the registry does not drift.
		if derr := trackingClient.DeleteDevice(c.Context(), remote.ID); derr != nil {
			log.Errorf("[Device] Rollback remote device %s: %v", remote.ID, derr)
		}
		log.Errorf("[Device] Create device IMEI %s: %v", req.IMEI, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to register device")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"device": device})
}

// HandleListDevices returns the user's registered devices.
func HandleListDevices(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)

	devices, err := repository.GetGlobalFactory().GetRepositories().Device.ListByUserID(uc.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load devices")
	}
	return c.JSON(fiber.Map{"devices": devices})
}

// HandleDeleteDevice removes a device. The remote delete is attempted
// first but a remote failure never blocks the local soft delete; a
// stale remote device is harmless, a stuck local row is not.
func HandleDeleteDevice(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	repos := repository.GetGlobalFactory().GetRepositories()

	deviceID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid device id")
	}

	device, err := repos.Device.GetByID(uint(deviceID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Device not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load device")
	}
	if device.UserID != uc.UserID && !uc.IsAdmin() {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "Device belongs to another account")
	}

	if device.ExternalID != "" {
		if err := trackingClient.DeleteDevice(c.Context(), device.ExternalID); err != nil {
			log.Warnf("[Device] Remote delete %s failed, continuing: %v", device.ExternalID, err)
		}
	}

	if err := repos.Device.SoftDelete(device.ID); err != nil {
		log.Errorf("[Device] Soft delete device %d: %v", device.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to delete device")
	}

	return c.JSON(fiber.Map{"deleted": true})
}
