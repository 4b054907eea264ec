package httpapi_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/model"
)

const testAssetUploadContent = "logo image bytes"

type assetBody struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentHash string `json:"content_hash"`
	UploadedBy  string `json:"uploaded_by"`
}

func uploadAsset(testingT *testing.T, fixture *apiFixture, portalID string, fileName string, content []byte) assetBody {
	testingT.Helper()

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)
	filePart, partErr := writer.CreateFormFile("file", fileName)
	require.NoError(testingT, partErr)
	_, writeErr := filePart.Write(content)
	require.NoError(testingT, writeErr)
	require.NoError(testingT, writer.Close())

	request := httptest.NewRequest(http.MethodPost, "/api/admin/portals/"+portalID+"/assets", &requestBody)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+testAdminBearerToken)
	request.Header.Set("X-Operator-Email", testOperatorEmail)

	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)
	require.Equal(testingT, http.StatusCreated, recorder.Code)

	var uploaded assetBody
	decodeJSONBody(testingT, recorder, &uploaded)
	return uploaded
}

func TestUploadAssetStoresBytesAndMetadata(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Asset Portal", "asset-portal")

	uploaded := uploadAsset(t, fixture, portal.ID, "logo.png", []byte(testAssetUploadContent))
	require.NotEmpty(t, uploaded.ID)
	require.Equal(t, "logo.png", uploaded.FileName)
	require.Equal(t, int64(len(testAssetUploadContent)), uploaded.SizeBytes)
	require.NotEmpty(t, uploaded.ContentHash)
	require.Equal(t, testOperatorEmail, uploaded.UploadedBy)

	object, openErr := fixture.store.Open(portal.ID, uploaded.ID)
	require.NoError(t, openErr)
	require.NoError(t, object.Close())
}

func TestUploadAssetRequiresFilePart(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "No File", "no-file")

	recorder := fixture.adminRequest(t, http.MethodPost, "/api/admin/portals/"+portal.ID+"/assets", nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "missing_file", errorValue(t, recorder))
}

func TestSignedURLRoundTripServesAssetBytes(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Signed Portal", "signed-portal")
	uploaded := uploadAsset(t, fixture, portal.ID, "banner.png", []byte(testAssetUploadContent))

	signRecorder := fixture.adminRequest(t, http.MethodPost, "/api/admin/portals/"+portal.ID+"/assets/"+uploaded.ID+"/signed-url", nil)
	require.Equal(t, http.StatusOK, signRecorder.Code)

	var signed struct {
		URL       string `json:"url"`
		ExpiresAt int64  `json:"expires_at"`
	}
	decodeJSONBody(t, signRecorder, &signed)
	require.NotEmpty(t, signed.URL)
	require.NotZero(t, signed.ExpiresAt)

	fetchRecorder := fixture.portalRequest(t, http.MethodGet, signed.URL, nil, "")
	require.Equal(t, http.StatusOK, fetchRecorder.Code)
	require.Equal(t, testAssetUploadContent, fetchRecorder.Body.String())
}

func TestFetchAssetRejectsUnsignedRequests(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Guard Portal", "guard-portal")
	uploaded := uploadAsset(t, fixture, portal.ID, "guarded.png", []byte(testAssetUploadContent))

	recorder := fixture.portalRequest(t, http.MethodGet, "/api/portal/guard-portal/assets/"+uploaded.ID, nil, "")
	require.Equal(t, http.StatusForbidden, recorder.Code)
	require.Equal(t, "bad_signature", errorValue(t, recorder))

	tampered := fixture.portalRequest(t, http.MethodGet, "/api/portal/guard-portal/assets/"+uploaded.ID+"?exp=9999999999&sig=deadbeef", nil, "")
	require.Equal(t, http.StatusForbidden, tampered.Code)
}

func TestDeleteAssetClearsPortalLogoReference(t *testing.T) {
	fixture := newAPIFixture(t)
	portal := fixture.seedPortal(t, "Logo Portal", "logo-portal-assets")
	uploaded := uploadAsset(t, fixture, portal.ID, "logo.png", []byte(testAssetUploadContent))

	patchRecorder := fixture.adminRequest(t, http.MethodPatch, "/api/admin/portals/"+portal.ID, map[string]any{
		"logo_asset_id": uploaded.ID,
	})
	require.Equal(t, http.StatusOK, patchRecorder.Code)

	deleteRecorder := fixture.adminRequest(t, http.MethodDelete, "/api/admin/portals/"+portal.ID+"/assets/"+uploaded.ID, nil)
	require.Equal(t, http.StatusNoContent, deleteRecorder.Code)

	var reloadedPortal model.ClientPortal
	require.NoError(t, fixture.database.First(&reloadedPortal, "id = ?", portal.ID).Error)
	require.Empty(t, reloadedPortal.LogoAssetID)

	var assetCount int64
	require.NoError(t, fixture.database.Model(&model.PortalAsset{}).
		Where("id = ?", uploaded.ID).Count(&assetCount).Error)
	require.Zero(t, assetCount)
}

func TestListAssetsReturnsPortalScopedRows(t *testing.T) {
	fixture := newAPIFixture(t)
	firstPortal := fixture.seedPortal(t, "First Assets", "first-assets")
	secondPortal := fixture.seedPortal(t, "Second Assets", "second-assets")
	uploadAsset(t, fixture, firstPortal.ID, "one.png", []byte(testAssetUploadContent))
	uploadAsset(t, fixture, secondPortal.ID, "two.png", []byte(testAssetUploadContent))

	recorder := fixture.adminRequest(t, http.MethodGet, "/api/admin/portals/"+firstPortal.ID+"/assets", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var listed struct {
		Assets []assetBody `json:"assets"`
	}
	decodeJSONBody(t, recorder, &listed)
	require.Len(t, listed.Assets, 1)
	require.Equal(t, "one.png", listed.Assets[0].FileName)
}
