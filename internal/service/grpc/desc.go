package grpcsvc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Сервисы говорят structpb.Struct по сети. Имена полей в snake_case и
// совпадают со схемой списков.
const (
	BillServiceName  = "farm.v1.BillService"
	StockServiceName = "farm.v1.StockService"
)

const (
	MethodRequestFood        = "/farm.v1.BillService/RequestFood"
	MethodRequestMedicine    = "/farm.v1.BillService/RequestMedicine"
	MethodRequestBreed       = "/farm.v1.BillService/RequestBreed"
	MethodAdminUpdateBill    = "/farm.v1.BillService/AdminUpdateBill"
	MethodUpdateBillFood     = "/farm.v1.BillService/UpdateBillFood"
	MethodUpdateBillMedicine = "/farm.v1.BillService/UpdateBillMedicine"
	MethodApproveBill        = "/farm.v1.BillService/ApproveBill"
	MethodRejectBill         = "/farm.v1.BillService/RejectBill"
	MethodConfirmBill        = "/farm.v1.BillService/ConfirmBill"
	MethodCancelBill         = "/farm.v1.BillService/CancelBill"
	MethodDisableBill        = "/farm.v1.BillService/DisableBill"
	MethodGetBill            = "/farm.v1.BillService/GetBill"
	MethodGetBillTimeline    = "/farm.v1.BillService/GetBillTimeline"
	MethodListBills          = "/farm.v1.BillService/ListBills"
	MethodListRequesterBills = "/farm.v1.BillService/ListRequesterBills"
	MethodListPendingBills   = "/farm.v1.BillService/ListPendingBills"
	MethodListBillsByType    = "/farm.v1.BillService/ListBillsByType"
	MethodListBillHistory    = "/farm.v1.BillService/ListBillHistory"

	MethodCreateInventoryItem = "/farm.v1.StockService/CreateInventoryItem"
	MethodGetInventoryItem    = "/farm.v1.StockService/GetInventoryItem"
	MethodListInventory       = "/farm.v1.StockService/ListInventory"
	MethodCreateBarn          = "/farm.v1.StockService/CreateBarn"
	MethodCreateCircle        = "/farm.v1.StockService/CreateCircle"
	MethodGetCircle           = "/farm.v1.StockService/GetCircle"
	MethodSetCircleStatus     = "/farm.v1.StockService/SetCircleStatus"
	MethodListCircleStock     = "/farm.v1.StockService/ListCircleStock"
)

type structCall func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// BillServiceServer задаёт серверный API farm.v1.BillService.
type BillServiceServer interface {
	RequestFood(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestMedicine(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestBreed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AdminUpdateBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateBillFood(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateBillMedicine(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DisableBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBillTimeline(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListBills(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRequesterBills(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPendingBills(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListBillsByType(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListBillHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// StockServiceServer задаёт серверный API farm.v1.StockService.
type StockServiceServer interface {
	CreateInventoryItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetInventoryItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListInventory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateBarn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateCircle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCircle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetCircleStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCircleStock(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func billMethod(fullMethod string, call func(BillServiceServer) structCall) grpc.MethodDesc {
	return methodDesc(fullMethod, func(srv any) structCall { return call(srv.(BillServiceServer)) })
}

func stockMethod(fullMethod string, call func(StockServiceServer) structCall) grpc.MethodDesc {
	return methodDesc(fullMethod, func(srv any) structCall { return call(srv.(StockServiceServer)) })
}

func methodDesc(fullMethod string, bind func(srv any) structCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: fullMethod[strings.LastIndex(fullMethod, "/")+1:],
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := bind(srv)
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// BillServiceDesc описывает farm.v1.BillService для grpc.Server.RegisterService.
var BillServiceDesc = grpc.ServiceDesc{
	ServiceName: BillServiceName,
	HandlerType: (*BillServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		billMethod(MethodRequestFood, func(s BillServiceServer) structCall { return s.RequestFood }),
		billMethod(MethodRequestMedicine, func(s BillServiceServer) structCall { return s.RequestMedicine }),
		billMethod(MethodRequestBreed, func(s BillServiceServer) structCall { return s.RequestBreed }),
		billMethod(MethodAdminUpdateBill, func(s BillServiceServer) structCall { return s.AdminUpdateBill }),
		billMethod(MethodUpdateBillFood, func(s BillServiceServer) structCall { return s.UpdateBillFood }),
		billMethod(MethodUpdateBillMedicine, func(s BillServiceServer) structCall { return s.UpdateBillMedicine }),
		billMethod(MethodApproveBill, func(s BillServiceServer) structCall { return s.ApproveBill }),
		billMethod(MethodRejectBill, func(s BillServiceServer) structCall { return s.RejectBill }),
		billMethod(MethodConfirmBill, func(s BillServiceServer) structCall { return s.ConfirmBill }),
		billMethod(MethodCancelBill, func(s BillServiceServer) structCall { return s.CancelBill }),
		billMethod(MethodDisableBill, func(s BillServiceServer) structCall { return s.DisableBill }),
		billMethod(MethodGetBill, func(s BillServiceServer) structCall { return s.GetBill }),
		billMethod(MethodGetBillTimeline, func(s BillServiceServer) structCall { return s.GetBillTimeline }),
		billMethod(MethodListBills, func(s BillServiceServer) structCall { return s.ListBills }),
		billMethod(MethodListRequesterBills, func(s BillServiceServer) structCall { return s.ListRequesterBills }),
		billMethod(MethodListPendingBills, func(s BillServiceServer) structCall { return s.ListPendingBills }),
		billMethod(MethodListBillsByType, func(s BillServiceServer) structCall { return s.ListBillsByType }),
		billMethod(MethodListBillHistory, func(s BillServiceServer) structCall { return s.ListBillHistory }),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "farm/v1/bill_service",
}

// StockServiceDesc описывает farm.v1.StockService.
var StockServiceDesc = grpc.ServiceDesc{
	ServiceName: StockServiceName,
	HandlerType: (*StockServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		stockMethod(MethodCreateInventoryItem, func(s StockServiceServer) structCall { return s.CreateInventoryItem }),
		stockMethod(MethodGetInventoryItem, func(s StockServiceServer) structCall { return s.GetInventoryItem }),
		stockMethod(MethodListInventory, func(s StockServiceServer) structCall { return s.ListInventory }),
		stockMethod(MethodCreateBarn, func(s StockServiceServer) structCall { return s.CreateBarn }),
		stockMethod(MethodCreateCircle, func(s StockServiceServer) structCall { return s.CreateCircle }),
		stockMethod(MethodGetCircle, func(s StockServiceServer) structCall { return s.GetCircle }),
		stockMethod(MethodSetCircleStatus, func(s StockServiceServer) structCall { return s.SetCircleStatus }),
		stockMethod(MethodListCircleStock, func(s StockServiceServer) structCall { return s.ListCircleStock }),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "farm/v1/stock_service",
}

// RegisterBillServiceServer регистрирует srv на s.
func RegisterBillServiceServer(s grpc.ServiceRegistrar, srv BillServiceServer) {
	s.RegisterService(&BillServiceDesc, srv)
}

// RegisterStockServiceServer регистрирует srv на s.
func RegisterStockServiceServer(s grpc.ServiceRegistrar, srv StockServiceServer) {
	s.RegisterService(&StockServiceDesc, srv)
}
