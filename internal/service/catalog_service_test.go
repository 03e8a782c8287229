package service

import (
	"context"
	"testing"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarehouse_FirstBecomesDefault(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.warehouseSvc.Create(ctx, f.staff(), CreateWarehouseRequest{Code: "main", Name: "Main"})
	require.NoError(t, err)
	assert.True(t, first.IsDefault)
	assert.Equal(t, "MAIN", first.Code)

	second, err := f.warehouseSvc.Create(ctx, f.staff(), CreateWarehouseRequest{Code: "north", Name: "North"})
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	_, err = f.warehouseSvc.SetDefault(ctx, f.staff(), second.ID)
	require.NoError(t, err)
	def, err := f.warehouses.FindDefault(ctx, f.tenant)
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID, "exactly one default per tenant")

	_, err = f.warehouseSvc.Create(ctx, f.staff(), CreateWarehouseRequest{Code: "MAIN", Name: "Again"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "code", verr.Field)
}

func TestWarehouse_DeleteGuards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	main, err := f.warehouseSvc.Create(ctx, f.staff(), CreateWarehouseRequest{Code: "MAIN", Name: "Main"})
	require.NoError(t, err)
	other, err := f.warehouseSvc.Create(ctx, f.staff(), CreateWarehouseRequest{Code: "B", Name: "B"})
	require.NoError(t, err)
	p := f.product("SKU-1")

	var verr *ValidationError
	require.ErrorAs(t, f.warehouseSvc.Delete(ctx, f.staff(), main.ID), &verr)

	f.db.setQty(other.ID, p.ID, 1)
	require.ErrorAs(t, f.warehouseSvc.Delete(ctx, f.staff(), other.ID), &verr)

	f.db.setQty(other.ID, p.ID, 0)
	require.NoError(t, f.warehouseSvc.Delete(ctx, f.staff(), other.ID))

	off := false
	_, err = f.warehouseSvc.Update(ctx, f.staff(), main.ID, UpdateWarehouseRequest{IsActive: &off})
	require.ErrorAs(t, err, &verr, "default warehouse stays active")
}

func TestProduct_VariantAndComboRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	shirt, err := f.productSvc.Create(ctx, f.staff(), CreateProductRequest{SKU: "SHIRT", Name: "Shirt", Category: "apparel"})
	require.NoError(t, err)
	assert.Equal(t, "pcs", shirt.Unit)

	xl, err := f.productSvc.Create(ctx, f.staff(), CreateProductRequest{SKU: "SHIRT-XL", Name: "Shirt XL", ParentID: shirt.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, shirt.ID, *xl.ParentID)
	assert.Equal(t, "apparel", xl.Category, "variants inherit the category")

	var verr *ValidationError
	_, err = f.productSvc.Create(ctx, f.staff(), CreateProductRequest{SKU: "SHIRT-XL-B", Name: "Nested", ParentID: xl.ID.String()})
	require.ErrorAs(t, err, &verr)

	_, err = f.productSvc.Create(ctx, f.staff(), CreateProductRequest{SKU: "SET", Name: "Set", IsCombo: true, HasSerial: true})
	require.ErrorAs(t, err, &verr)

	_, err = f.productSvc.Create(ctx, f.staff(), CreateProductRequest{SKU: "SHIRT", Name: "Dup"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sku", verr.Field)

	_, err = f.productSvc.Create(ctx, f.viewer(), CreateProductRequest{SKU: "X", Name: "X"})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestProduct_SetComboItems(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.product("A")
	phone := f.serialized("PHONE")
	set := f.db.addProduct(model.Product{TenantID: f.tenant, SKU: "SET", IsCombo: true})
	nested := f.db.addProduct(model.Product{TenantID: f.tenant, SKU: "SET2", IsCombo: true})

	req := func(items ...ComboItemRequest) SetComboItemsRequest { return SetComboItemsRequest{Items: items} }
	var verr *ValidationError

	_, err := f.productSvc.SetComboItems(ctx, f.staff(), set.ID, req(ComboItemRequest{ProductID: set.ID.String(), QtyPerCombo: 1}))
	require.ErrorAs(t, err, &verr)
	_, err = f.productSvc.SetComboItems(ctx, f.staff(), set.ID, req(ComboItemRequest{ProductID: nested.ID.String(), QtyPerCombo: 1}))
	require.ErrorAs(t, err, &verr)
	_, err = f.productSvc.SetComboItems(ctx, f.staff(), set.ID, req(ComboItemRequest{ProductID: phone.ID.String(), QtyPerCombo: 1}))
	require.ErrorAs(t, err, &verr)
	_, err = f.productSvc.SetComboItems(ctx, f.staff(), a.ID, req(ComboItemRequest{ProductID: set.ID.String(), QtyPerCombo: 1}))
	require.ErrorAs(t, err, &verr, "only combos carry components")

	items, err := f.productSvc.SetComboItems(ctx, f.staff(), set.ID, req(ComboItemRequest{ProductID: a.ID.String(), QtyPerCombo: 3}))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].QtyPerCombo)

	stored, err := f.productSvc.ComboItems(ctx, f.staff(), set.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, a.ID, stored[0].ChildProductID)
}

func TestInventory_ViewDerivesCombosAndSellable(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	a := f.db.addProduct(model.Product{TenantID: f.tenant, SKU: "A", MinStock: 10, UnitPrice: decimal.NewFromInt(1)})
	set := f.combo("SET", map[uuid.UUID]int{a.ID: 2})
	f.db.setQty(wh.ID, a.ID, 7)
	f.commitments[a.ID] = 3

	rows, total, err := f.inventory.View(context.Background(), f.staff(), wh.ID, repositoryProductFilter())
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	byID := map[uuid.UUID]InventoryRow{}
	for _, r := range rows {
		byID[r.ProductID] = r
	}
	assert.Equal(t, 7, byID[a.ID].OnHand)
	assert.Equal(t, 3, byID[a.ID].Committed)
	assert.Equal(t, 4, byID[a.ID].Sellable)
	assert.True(t, byID[a.ID].LowStock)
	assert.Equal(t, 3, byID[set.ID].OnHand)
	assert.Equal(t, 0, byID[set.ID].Committed)
}

func TestInventory_ManualAdjust(t *testing.T) {
	f := newFixture()
	wh := f.warehouse("WH1")
	p := f.product("SKU-1")
	phone := f.serialized("PHONE")
	f.db.setQty(wh.ID, p.ID, 4)
	ctx := context.Background()

	res, err := f.inventory.Adjust(ctx, f.staff(), ManualAdjustRequest{WarehouseID: wh.ID.String(), ProductID: p.ID.String(), Quantity: 9})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Previous)
	assert.Equal(t, 9, res.Quantity)
	assert.Equal(t, 9, f.db.qty(wh.ID, p.ID))
	assert.Contains(t, f.audit.actions(), model.ActionManualAdjust)

	_, err = f.inventory.Adjust(ctx, f.staff(), ManualAdjustRequest{WarehouseID: wh.ID.String(), ProductID: phone.ID.String(), Quantity: 1})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestWarehouse_DeleteLosesToConcurrentReceipt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.warehouseSvc.Create(ctx, f.staff(), CreateWarehouseRequest{Code: "MAIN", Name: "Main"})
	require.NoError(t, err)
	other, err := f.warehouseSvc.Create(ctx, f.staff(), CreateWarehouseRequest{Code: "B", Name: "B"})
	require.NoError(t, err)
	p := f.product("SKU-1")

	f.warehouses.beforeWrite = func(uuid.UUID) { f.db.setQty(other.ID, p.ID, 4) }
	var verr *ValidationError
	require.ErrorAs(t, f.warehouseSvc.Delete(ctx, f.staff(), other.ID), &verr)

	_, err = f.warehouses.FindByID(ctx, f.tenant, other.ID)
	assert.NoError(t, err, "warehouse survives")
}

func TestWarehouse_UpdateKeepsConcurrentDefault(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	main, err := f.warehouseSvc.Create(ctx, f.staff(), CreateWarehouseRequest{Code: "MAIN", Name: "Main"})
	require.NoError(t, err)
	other, err := f.warehouseSvc.Create(ctx, f.staff(), CreateWarehouseRequest{Code: "B", Name: "B"})
	require.NoError(t, err)
	require.True(t, main.IsDefault)

	f.warehouses.beforeWrite = func(uuid.UUID) {
		require.NoError(t, f.warehouses.SetDefault(ctx, f.tenant, other.ID))
	}
	updated, err := f.warehouseSvc.Update(ctx, f.staff(), main.ID, UpdateWarehouseRequest{Name: "Main Hall"})
	require.NoError(t, err)
	assert.Equal(t, "Main Hall", updated.Name)

	def, err := f.warehouses.FindDefault(ctx, f.tenant)
	require.NoError(t, err)
	assert.Equal(t, other.ID, def.ID)
	stored, err := f.warehouses.FindByID(ctx, f.tenant, main.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsDefault)
	assert.Equal(t, "Main Hall", stored.Name)

	off := false
	f.warehouses.beforeWrite = func(uuid.UUID) {
		require.NoError(t, f.warehouses.SetDefault(ctx, f.tenant, main.ID))
	}
	var verr *ValidationError
	_, err = f.warehouseSvc.Update(ctx, f.staff(), main.ID, UpdateWarehouseRequest{IsActive: &off})
	require.ErrorAs(t, err, &verr, "a warehouse that just became default stays active")
}
